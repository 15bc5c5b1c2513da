// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

//go:build linux

package linux

import (
	"errors"
	"fmt"

	"github.com/safchain/ethtool"
	"golang.org/x/sys/unix"

	"github.com/JiaoTuan/monitor/pkg/netstack"
)

// defaultRingReader queries NIC ring buffer sizing via the ethtool
// ioctl. Virtual devices (lo, veth, bridges) do not implement the
// ringparam command, which classifies as not available.
func defaultRingReader(name string) (map[string]uint64, error) {
	et, err := ethtool.NewEthtool()
	if err != nil {
		return nil, classifyIoctlError(err)
	}
	defer et.Close()

	ring, err := et.GetRing(name)
	if err != nil {
		return nil, classifyIoctlError(err)
	}
	return map[string]uint64{
		netstack.CtrRingRxCurrent: uint64(ring.RxPending),
		netstack.CtrRingRxMax:     uint64(ring.RxMaxPending),
		netstack.CtrRingTxCurrent: uint64(ring.TxPending),
		netstack.CtrRingTxMax:     uint64(ring.TxMaxPending),
	}, nil
}

func classifyIoctlError(err error) error {
	switch {
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return fmt.Errorf("%w: %v", netstack.ErrPermissionDenied, err)
	case errors.Is(err, unix.EOPNOTSUPP), errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENOENT):
		return fmt.Errorf("%w: %v", netstack.ErrNotAvailable, err)
	}
	return fmt.Errorf("%w: %v", netstack.ErrNotAvailable, err)
}
