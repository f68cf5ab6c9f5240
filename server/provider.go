// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"math/rand/v2"
	"slices"
)

// Provider enumerates candidate servers for one registration attempt.
// Next returns each candidate once and then false forever. A Provider
// is not safe for concurrent use.
type Provider interface {
	Next() (Server, bool)
}

// ListProvider is a Provider over a fixed list.
type ListProvider struct {
	servers []Server
	index   int
}

// NewListProvider enumerates servers in the given order, skipping
// duplicates.
func NewListProvider(servers ...Server) *ListProvider {
	unique := make([]Server, 0, len(servers))
	for _, candidate := range servers {
		if candidate.IsZero() || slices.Contains(unique, candidate) {
			continue
		}
		unique = append(unique, candidate)
	}
	return &ListProvider{servers: unique}
}

// NewShuffledProvider enumerates servers in a random order drawn from
// source, spreading first attempts across the federation.
func NewShuffledProvider(servers []Server, source *rand.Rand) *ListProvider {
	provider := NewListProvider(servers...)
	source.Shuffle(len(provider.servers), func(i, j int) {
		provider.servers[i], provider.servers[j] = provider.servers[j], provider.servers[i]
	})
	return provider
}

// Next returns the next untried server.
func (p *ListProvider) Next() (Server, bool) {
	if p.index >= len(p.servers) {
		return Server{}, false
	}
	next := p.servers[p.index]
	p.index++
	return next, true
}

// Remaining returns how many servers Next has not yet returned.
func (p *ListProvider) Remaining() int {
	return len(p.servers) - p.index
}
