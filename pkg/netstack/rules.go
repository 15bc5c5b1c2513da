// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package netstack

import "github.com/go-logr/logr"

// DefaultCatalog registers the built-in diagnostic rules. Registration
// order is evaluation order and is part of the engine's observable
// behavior, so new rules go at the end.
func DefaultCatalog(logger logr.Logger) *Catalog {
	c := NewCatalog(logger)
	c.Register(RingBufferRule())
	c.Register(InterfaceHealthRule())
	c.Register(SoftnetBacklogRule())
	c.Register(ARPPolicyRule())
	c.Register(ARPTableRule())
	c.Register(ConntrackRule())
	c.Register(IPFragmentationRule())
	c.Register(TCPTimeWaitRule())
	c.Register(TCPQueueRule())
	c.Register(TCPTimestampRule())
	c.Register(TCPBaselineRule())
	c.Register(UDPDropRule())
	c.Register(SocketBufferRule())
	return c
}
