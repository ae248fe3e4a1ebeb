// Copyright 2025 The go-lucid Authors
// This file is part of the go-lucid library.
//
// The go-lucid library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-lucid library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-lucid library. If not, see <http://www.gnu.org/licenses/>.

package chainsync

import (
	"context"
	"errors"

	"github.com/lucid-rdp/go-lucid/core/types"
	"github.com/lucid-rdp/go-lucid/lucerr"
	"github.com/lucid-rdp/go-lucid/rpc"
)

// Client reads a peer's chain over its JSON-RPC endpoint.
type Client struct {
	rpc *rpc.Client
}

// Dial connects to a peer node endpoint.
func Dial(endpoint string) (*Client, error) {
	c, err := rpc.Dial(endpoint)
	if err != nil {
		return nil, err
	}
	return &Client{rpc: c}, nil
}

// ChainStatus fetches the peer's tip height and hash.
func (c *Client) ChainStatus(ctx context.Context) (*RemoteStatus, error) {
	var status RemoteStatus
	if err := c.rpc.CallContext(ctx, &status, "lucid_chainStatus"); err != nil {
		return nil, lucerr.Wrap(lucerr.ChainUnavailable, err, "fetching peer chain status")
	}
	return &status, nil
}

// BlockByHeight fetches one block from the peer.
func (c *Client) BlockByHeight(ctx context.Context, height uint64) (*types.Block, error) {
	var block types.Block
	err := c.rpc.CallContext(ctx, &block, "lucid_getBlockByHeight", height)
	if err != nil {
		if errors.Is(err, rpc.ErrNoResult) {
			return nil, lucerr.Newf(lucerr.NotFound, "peer has no block at height %d", height)
		}
		return nil, lucerr.Wrap(lucerr.ChainUnavailable, err, "fetching peer block")
	}
	return &block, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}
