// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package linux

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JiaoTuan/monitor/pkg/netstack"
)

// readNetDev parses /proc/net/dev into per-interface counter maps.
// The file has two header lines followed by one row per interface with
// 16 numeric fields: 8 receive, 8 transmit.
func (s *Source) readNetDev() (map[string]map[string]uint64, error) {
	path := filepath.Join(s.procPath, "net", "dev")
	file, err := os.Open(path)
	if err != nil {
		return nil, classifyFSError(err)
	}
	defer file.Close()

	stats := make(map[string]map[string]uint64)
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum <= 2 {
			continue
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		fields := strings.Fields(parts[1])
		if len(fields) < 16 {
			continue
		}
		values := make([]uint64, 16)
		ok := true
		for i := 0; i < 16; i++ {
			v, err := strconv.ParseUint(fields[i], 10, 64)
			if err != nil {
				ok = false
				break
			}
			values[i] = v
		}
		if !ok {
			continue
		}
		stats[name] = map[string]uint64{
			netstack.CtrRxBytes:      values[0],
			netstack.CtrRxPackets:    values[1],
			netstack.CtrRxErrors:     values[2],
			netstack.CtrRxDropped:    values[3],
			netstack.CtrRxFIFO:       values[4],
			netstack.CtrRxFrame:      values[5],
			netstack.CtrRxCompressed: values[6],
			netstack.CtrRxMulticast:  values[7],
			netstack.CtrTxBytes:      values[8],
			netstack.CtrTxPackets:    values[9],
			netstack.CtrTxErrors:     values[10],
			netstack.CtrTxDropped:    values[11],
			netstack.CtrTxFIFO:       values[12],
			netstack.CtrTxCollisions: values[13],
			netstack.CtrTxCarrier:    values[14],
			netstack.CtrTxCompressed: values[15],
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, classifyFSError(err)
	}
	return stats, nil
}

// readSNMP extracts one protocol block from /proc/net/snmp. Each block
// is a header line and a value line sharing the same "Proto:" prefix.
func (s *Source) readSNMP(proto string) (map[string]uint64, error) {
	return s.readNamedTable(filepath.Join(s.procPath, "net", "snmp"), proto)
}

// readNamedTable parses the header/value line pair format shared by
// /proc/net/snmp and /proc/net/netstat.
func (s *Source) readNamedTable(path, proto string) (map[string]uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, classifyFSError(err)
	}
	defer file.Close()

	prefix := proto + ":"
	var headers []string
	counters := make(map[string]uint64)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, prefix))
		if headers == nil {
			headers = fields
			continue
		}
		for i, field := range fields {
			if i >= len(headers) {
				break
			}
			// Some SNMP fields are signed (e.g. Tcp MaxConn is -1).
			if v, err := strconv.ParseUint(field, 10, 64); err == nil {
				counters[headers[i]] = v
			}
		}
		break
	}
	if err := scanner.Err(); err != nil {
		return nil, classifyFSError(err)
	}
	if len(counters) == 0 {
		return nil, fmt.Errorf("%w: no %s block in %s", netstack.ErrNotAvailable, proto, path)
	}
	return counters, nil
}

// readTCP merges the SNMP Tcp block, the netstat TcpExt block and a
// socket state histogram from the /proc/net/tcp tables.
func (s *Source) readTCP() (map[string]uint64, error) {
	counters, err := s.readSNMP("Tcp")
	if err != nil {
		return nil, err
	}
	if ext, err := s.readNamedTable(filepath.Join(s.procPath, "net", "netstat"), "TcpExt"); err == nil {
		for name, v := range ext {
			counters[name] = v
		}
	} else {
		s.logger.V(1).Info("netstat extension counters absent", "reason", err)
	}
	if states, err := s.readTCPStates(); err == nil {
		for name, v := range states {
			counters[name] = v
		}
	} else {
		s.logger.V(1).Info("tcp state histogram absent", "reason", err)
	}
	return counters, nil
}

// Socket states from include/net/tcp_states.h.
const (
	tcpStateEstablished = 0x01
	tcpStateSynRecv     = 0x03
	tcpStateTimeWait    = 0x06
)

// readTCPStates counts sockets per state across /proc/net/tcp and
// /proc/net/tcp6. The state is the hex field after the remote address.
func (s *Source) readTCPStates() (map[string]uint64, error) {
	states := map[string]uint64{
		"state_established": 0,
		"state_syn_recv":    0,
		"state_time_wait":   0,
	}
	read := false
	for _, name := range []string{"tcp", "tcp6"} {
		file, err := os.Open(filepath.Join(s.procPath, "net", name))
		if err != nil {
			continue
		}
		read = true
		scanner := bufio.NewScanner(file)
		scanner.Scan() // header
		for scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			if len(fields) < 4 {
				continue
			}
			st, err := strconv.ParseUint(fields[3], 16, 8)
			if err != nil {
				continue
			}
			switch st {
			case tcpStateEstablished:
				states["state_established"]++
			case tcpStateSynRecv:
				states["state_syn_recv"]++
			case tcpStateTimeWait:
				states["state_time_wait"]++
			}
		}
		file.Close()
	}
	if !read {
		return nil, fmt.Errorf("%w: no tcp socket tables", netstack.ErrNotAvailable)
	}
	return states, nil
}

// readARP combines the per-CPU neighbour cache statistics with the
// actual neighbour table size from netlink.
func (s *Source) readARP() (map[string]uint64, error) {
	counters, err := s.readPerCPUHexTable(filepath.Join(s.procPath, "net", "stat", "arp_cache"))
	if err != nil {
		return nil, err
	}
	if n, err := s.neighCount(); err == nil {
		counters["neigh_count"] = uint64(n)
	} else {
		s.logger.V(1).Info("neighbour table count absent", "reason", err)
	}
	return counters, nil
}

// readConntrack reads the connection tracking table occupancy and its
// per-CPU event counters. Absent entirely when the nf_conntrack module
// is not loaded.
func (s *Source) readConntrack() (map[string]uint64, error) {
	count, err := readIntFile(filepath.Join(s.procPath, "sys", "net", "netfilter", "nf_conntrack_count"))
	if err != nil {
		return nil, err
	}
	max, err := readIntFile(filepath.Join(s.procPath, "sys", "net", "netfilter", "nf_conntrack_max"))
	if err != nil {
		return nil, err
	}
	counters := map[string]uint64{
		"count": uint64(count),
		"max":   uint64(max),
	}
	if stat, err := s.readPerCPUHexTable(filepath.Join(s.procPath, "net", "stat", "nf_conntrack")); err == nil {
		for _, name := range []string{"insert_failed", "drop", "early_drop", "invalid"} {
			if v, ok := stat[name]; ok {
				counters[name] = v
			}
		}
	} else {
		s.logger.V(1).Info("conntrack statistics absent", "reason", err)
	}
	return counters, nil
}

// readPerCPUHexTable parses the /proc/net/stat format: a header line of
// column names followed by one hex row per CPU. Gauge columns (entries)
// repeat the same value on every row and are taken from the first; the
// event columns are summed.
func (s *Source) readPerCPUHexTable(path string) (map[string]uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, classifyFSError(err)
	}
	defer file.Close()

	var headers []string
	counters := make(map[string]uint64)
	rows := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if headers == nil {
			headers = fields
			continue
		}
		rows++
		for i, field := range fields {
			if i >= len(headers) {
				break
			}
			v, err := strconv.ParseUint(field, 16, 64)
			if err != nil {
				continue
			}
			if headers[i] == "entries" {
				if rows == 1 {
					counters["entries"] = v
				}
				continue
			}
			counters[headers[i]] += v
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, classifyFSError(err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: empty table %s", netstack.ErrNotAvailable, path)
	}
	return counters, nil
}

// readSoftnet sums the per-CPU /proc/net/softnet_stat rows. The file
// has no header; column 0 is packets processed, column 1 is packets
// dropped because the backlog queue was full. All values are hex.
func (s *Source) readSoftnet() (map[string]uint64, error) {
	file, err := os.Open(filepath.Join(s.procPath, "net", "softnet_stat"))
	if err != nil {
		return nil, classifyFSError(err)
	}
	defer file.Close()

	var processed, dropped, squeezed uint64
	rows := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		rows++
		if v, err := strconv.ParseUint(fields[0], 16, 64); err == nil {
			processed += v
		}
		if v, err := strconv.ParseUint(fields[1], 16, 64); err == nil {
			dropped += v
		}
		if v, err := strconv.ParseUint(fields[2], 16, 64); err == nil {
			squeezed += v
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, classifyFSError(err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: empty softnet_stat", netstack.ErrNotAvailable)
	}
	return map[string]uint64{
		"processed":     processed,
		"dropped":       dropped,
		"time_squeezed": squeezed,
	}, nil
}

// readSockstat parses /proc/net/sockstat, e.g.
//
//	TCP: inuse 5 orphan 0 tw 25 alloc 7 mem 1
//
// into tcp_in_use, tcp_orphan, tcp_time_wait and friends.
func (s *Source) readSockstat() (map[string]uint64, error) {
	file, err := os.Open(filepath.Join(s.procPath, "net", "sockstat"))
	if err != nil {
		return nil, classifyFSError(err)
	}
	defer file.Close()

	names := map[string]string{
		"inuse":  "in_use",
		"orphan": "orphan",
		"tw":     "time_wait",
		"alloc":  "alloc",
		"mem":    "mem",
	}
	counters := make(map[string]uint64)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), ":", 2)
		if len(parts) != 2 {
			continue
		}
		proto := strings.ToLower(strings.TrimSpace(parts[0]))
		fields := strings.Fields(parts[1])
		for i := 0; i+1 < len(fields); i += 2 {
			name, ok := names[fields[i]]
			if !ok {
				continue
			}
			v, err := strconv.ParseUint(fields[i+1], 10, 64)
			if err != nil {
				continue
			}
			counters[proto+"_"+name] = v
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, classifyFSError(err)
	}
	if len(counters) == 0 {
		return nil, fmt.Errorf("%w: empty sockstat", netstack.ErrNotAvailable)
	}
	return counters, nil
}

// readIntFile reads a whitespace-trimmed integer from a proc file.
// Multi-value files (e.g. tcp_rmem) yield their first field.
func readIntFile(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, classifyFSError(err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: empty file %s", netstack.ErrNotAvailable, path)
	}
	v, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", netstack.ErrNotAvailable, path, err)
	}
	return v, nil
}
