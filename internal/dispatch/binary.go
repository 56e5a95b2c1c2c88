// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dispatch

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"net"

	"github.com/kestrelfilter/telemetry/internal/stats/engine"
)

// Binary framing tags. One byte each, big-endian payloads, per the wire
// contract's per-value tag table.
const (
	tagUint8  byte = 0x01
	tagInt32  byte = 0x02
	tagInt64  byte = 0x03
	tagFloat  byte = 0x04
	tagFixstr byte = 0x05 // payload length <= 31, length byte follows the tag
	tagStr32  byte = 0x06 // payload length <= 2^32-1, uint32 length follows the tag
	tagMap16  byte = 0x07 // entry count <= 2^16-1, uint16 count follows the tag
)

// binaryHandshake is the single byte a connection to the binary listener
// must send before its first request. The binary framing has its own
// listener (ListenBinary); a connection whose first byte is anything else
// is closed, and line-protocol clients connect to ListenLine instead.
const binaryHandshake = 0xB1

type binaryWriter struct {
	w   *bufio.Writer
	err error
}

func (bw *binaryWriter) writeUint8(v uint8) {
	if bw.err != nil {
		return
	}
	_, bw.err = bw.w.Write([]byte{tagUint8, v})
}

func (bw *binaryWriter) writeInt32(v int32) {
	if bw.err != nil {
		return
	}
	var buf [5]byte
	buf[0] = tagInt32
	binary.BigEndian.PutUint32(buf[1:], uint32(v))
	_, bw.err = bw.w.Write(buf[:])
}

func (bw *binaryWriter) writeInt64(v int64) {
	if bw.err != nil {
		return
	}
	var buf [9]byte
	buf[0] = tagInt64
	binary.BigEndian.PutUint64(buf[1:], uint64(v))
	_, bw.err = bw.w.Write(buf[:])
}

func (bw *binaryWriter) writeFloat(v float64) {
	if bw.err != nil {
		return
	}
	var buf [9]byte
	buf[0] = tagFloat
	binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v))
	_, bw.err = bw.w.Write(buf[:])
}

func (bw *binaryWriter) writeString(s string) {
	if bw.err != nil {
		return
	}
	if len(s) <= 31 {
		_, bw.err = bw.w.Write([]byte{tagFixstr, byte(len(s))})
		if bw.err == nil {
			_, bw.err = bw.w.WriteString(s)
		}
		return
	}
	var hdr [5]byte
	hdr[0] = tagStr32
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(s)))
	if _, bw.err = bw.w.Write(hdr[:]); bw.err != nil {
		return
	}
	_, bw.err = bw.w.WriteString(s)
}

// writeMapHeader opens a map16 frame of count entries; the caller writes
// count key/value string-then-value pairs immediately after.
func (bw *binaryWriter) writeMapHeader(count int) {
	if bw.err != nil {
		return
	}
	var hdr [3]byte
	hdr[0] = tagMap16
	binary.BigEndian.PutUint16(hdr[1:], uint16(count))
	_, bw.err = bw.w.Write(hdr[:])
}

// ListenBinary starts the length-tagged binary listener. Each accepted
// connection must send the handshake byte before its first request;
// anything else is rejected and the connection closed, matching the
// "selected per-connection by a handshake byte" framing rule.
func (s *Server) ListenBinary(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("dispatch: binary listen %s: %w", addr, err)
	}
	defer ln.Close()
	s.Logger.Info("dispatch: binary protocol listening", "addr", addr)

	for {
		if s.killed.Load() {
			return nil
		}
		conn, err := ln.Accept()
		if err != nil {
			if s.killed.Load() {
				return nil
			}
			s.Logger.Warn("dispatch: binary accept failed", "error", err)
			continue
		}
		go s.handleBinaryConn(conn)
	}
}

func (s *Server) handleBinaryConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	handshake, err := r.ReadByte()
	if err != nil || handshake != binaryHandshake {
		return
	}
	w := &binaryWriter{w: bufio.NewWriter(conn)}
	for {
		line, err := r.ReadString('\n')
		if len(line) == 0 && err != nil {
			return
		}
		req := parseLineRequest(line)
		s.dispatchBinary(w, req)
		w.w.WriteByte(eot)
		if w.err != nil || w.w.Flush() != nil {
			return
		}
		if req.command == "quit" || req.command == "kill" {
			if req.command == "kill" {
				s.Kill()
			}
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) dispatchBinary(w *binaryWriter, req lineRequest) {
	switch {
	case req.command == "stats":
		s.binaryStats(w)
	case req.command == "top-domains":
		s.binaryTopEntries(w, req, true)
	case req.command == "top-ads":
		s.binaryTopEntries(w, req, false)
	case req.command == "top-clients":
		s.binaryTopClients(w, req)
	case req.command == "forward-dest":
		s.binaryForwardDest(w, req)
	default:
		w.writeString(fmt.Sprintf("unknown command: %s", req.command))
	}
}

func (s *Server) binaryStats(w *binaryWriter) {
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		w.writeMapHeader(4)
		w.writeString("dns_queries_today")
		w.writeInt64(int64(snap.Counters.Total))
		w.writeString("ads_blocked_today")
		w.writeInt64(int64(snap.Counters.Blocked))
		w.writeString("unique_clients")
		w.writeInt32(int32(snap.Counters.ClientCount))
		w.writeString("status")
		w.writeUint8(boolToUint8(snap.Counters.BlockingEnabled))
	})
}

func (s *Server) binaryTopEntries(w *binaryWriter, req lineRequest, domains bool) {
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		var entries []TopEntry
		if domains {
			entries = TopDomains(snap, req.n, req.asc, s.Config.ExcludeDomains)
		} else {
			entries = TopAds(snap, req.n, req.asc, s.Config.ExcludeDomains)
		}
		w.writeMapHeader(len(entries))
		for _, e := range entries {
			w.writeString(e.Name)
			w.writeInt32(int32(e.Value))
		}
	})
}

func (s *Server) binaryTopClients(w *binaryWriter, req lineRequest) {
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		entries := TopClients(snap, req.n, req.asc, req.withZero, req.blocked, s.Config.ExcludeClients)
		w.writeMapHeader(len(entries))
		for _, e := range entries {
			w.writeString(e.Name)
			w.writeInt32(int32(e.Value))
		}
	})
}

func (s *Server) binaryForwardDest(w *binaryWriter, req lineRequest) {
	s.Engine.WithLock(func(snap *engine.Snapshot) {
		rows := ForwardDest(snap, s.Config.ForwardDestLimit, !req.unsorted)
		w.writeMapHeader(len(rows))
		for _, row := range rows {
			w.writeString(row.Name)
			w.writeFloat(row.Percent)
		}
	})
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
