// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

//go:build !linux

package linux

import (
	"fmt"

	"github.com/JiaoTuan/monitor/pkg/netstack"
)

func defaultRingReader(string) (map[string]uint64, error) {
	return nil, fmt.Errorf("%w: ethtool requires linux", netstack.ErrNotAvailable)
}

func defaultNeighCount() (int, error) {
	return 0, fmt.Errorf("%w: netlink requires linux", netstack.ErrNotAvailable)
}
