// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package etcdtopology keeps the fleet's reachability graph and rented
// membership in etcd, so hosts can join and leave without editing the
// daemon's configuration.
//
// Each host is one key holding a JSON record:
//
//	<prefix>hosts/<id>  {"neighbors": ["n00dles", "sigma"], "rented": true}
//
// JSON keeps the records editable with etcdctl.
package etcdtopology

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/bureau-foundation/swarm/lib/environment"
)

// Host is one host's record.
type Host struct {
	ID        string   `json:"-"`
	Neighbors []string `json:"neighbors"`
	Rented    bool     `json:"rented,omitempty"`
}

// KV is the key-value surface the registry needs. Connect returns the
// etcd-backed implementation.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// GetPrefix returns every key under prefix with its value.
	GetPrefix(ctx context.Context, prefix string) (map[string][]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Registry implements environment.Topology and the RentedHosts part
// of environment.Inventory over a KV.
type Registry struct {
	kv     KV
	prefix string
}

// New returns a registry storing hosts under prefix.
func New(kv KV, prefix string) *Registry {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Registry{kv: kv, prefix: prefix + "hosts/"}
}

func (r *Registry) key(id string) string { return r.prefix + id }

// Neighbors returns the host's recorded neighbor list. A host with no
// record that some other host lists as a neighbor has no neighbors of
// its own; a host mentioned nowhere is unknown.
func (r *Registry) Neighbors(ctx context.Context, id string) ([]string, error) {
	value, found, err := r.kv.Get(ctx, r.key(id))
	if err != nil {
		return nil, fmt.Errorf("reading %s from etcd: %w", id, err)
	}
	if found {
		host, err := decode(id, value)
		if err != nil {
			return nil, err
		}
		return host.Neighbors, nil
	}

	hosts, err := r.Hosts(ctx)
	if err != nil {
		return nil, err
	}
	for _, host := range hosts {
		if slices.Contains(host.Neighbors, id) {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", environment.ErrUnknownHost, id)
}

// RentedHosts lists hosts whose record is marked rented, sorted.
func (r *Registry) RentedHosts(ctx context.Context) ([]string, error) {
	hosts, err := r.Hosts(ctx)
	if err != nil {
		return nil, err
	}
	var rented []string
	for _, host := range hosts {
		if host.Rented {
			rented = append(rented, host.ID)
		}
	}
	return rented, nil
}

// Hosts returns every record, sorted by id.
func (r *Registry) Hosts(ctx context.Context) ([]Host, error) {
	values, err := r.kv.GetPrefix(ctx, r.prefix)
	if err != nil {
		return nil, fmt.Errorf("listing hosts from etcd: %w", err)
	}
	hosts := make([]Host, 0, len(values))
	for key, value := range values {
		host, err := decode(strings.TrimPrefix(key, r.prefix), value)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, host)
	}
	slices.SortFunc(hosts, func(a, b Host) int { return strings.Compare(a.ID, b.ID) })
	return hosts, nil
}

// Register writes a host's record, replacing any previous one.
func (r *Registry) Register(ctx context.Context, host Host) error {
	if host.ID == "" || strings.Contains(host.ID, "/") {
		return fmt.Errorf("invalid host id %q", host.ID)
	}
	value, err := json.Marshal(host)
	if err != nil {
		return err
	}
	if err := r.kv.Put(ctx, r.key(host.ID), value); err != nil {
		return fmt.Errorf("registering %s: %w", host.ID, err)
	}
	return nil
}

// Deregister removes a host's record.
func (r *Registry) Deregister(ctx context.Context, id string) error {
	if err := r.kv.Delete(ctx, r.key(id)); err != nil {
		return fmt.Errorf("deregistering %s: %w", id, err)
	}
	return nil
}

func decode(id string, value []byte) (Host, error) {
	var host Host
	if err := json.Unmarshal(value, &host); err != nil {
		return Host{}, fmt.Errorf("decoding etcd record for %s: %w", id, err)
	}
	host.ID = id
	return host, nil
}

// Client is a KV backed by an etcd cluster.
type Client struct {
	client *clientv3.Client
}

// Connect dials the etcd cluster at endpoints.
func Connect(endpoints []string, dialTimeout time.Duration) (*Client, error) {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to etcd %v: %w", endpoints, err)
	}
	return &Client{client: client}, nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	response, err := c.client.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if len(response.Kvs) == 0 {
		return nil, false, nil
	}
	return response.Kvs[0].Value, true, nil
}

func (c *Client) GetPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	response, err := c.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	values := make(map[string][]byte, len(response.Kvs))
	for _, kv := range response.Kvs {
		values[string(kv.Key)] = kv.Value
	}
	return values, nil
}

func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	_, err := c.client.Put(ctx, key, string(value))
	return err
}

func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.client.Delete(ctx, key)
	return err
}

// Close closes the etcd connection.
func (c *Client) Close() error { return c.client.Close() }

var (
	_ environment.Topology = (*Registry)(nil)
	_ KV                   = (*Client)(nil)
)
