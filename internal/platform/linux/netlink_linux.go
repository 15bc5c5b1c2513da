// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

//go:build linux

package linux

import (
	"fmt"

	"github.com/vishvananda/netlink"

	"github.com/JiaoTuan/monitor/pkg/netstack"
)

// defaultNeighCount returns the number of IPv4 neighbour table entries
// across all links, the live counterpart of the arp_cache "entries"
// gauge.
func defaultNeighCount() (int, error) {
	neighs, err := netlink.NeighList(0, netlink.FAMILY_V4)
	if err != nil {
		return 0, fmt.Errorf("%w: neighbour dump: %v", netstack.ErrNotAvailable, err)
	}
	return len(neighs), nil
}
