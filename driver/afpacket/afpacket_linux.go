//go:build linux

// File: driver/afpacket/afpacket_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Receive queues share one PACKET_FANOUT group hashed on the flow, so the
// kernel spreads traffic across them the way RSS spreads it across NIC
// queues. Transmit queues are plain bound sockets. Link, promiscuous mode
// and error counters go through rtnetlink.

package afpacket

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-dp/api"
	"github.com/momentics/hioload-dp/ethdev"
	"github.com/momentics/hioload-dp/pool"
)

var (
	_ ethdev.EthDev        = (*Device)(nil)
	_ ethdev.StatsReporter = (*Device)(nil)
)

var fanoutSeq atomic.Uint32

// sockets is the set of open queues, replaced as a whole by Start and Stop.
type sockets struct {
	rx      []int
	tx      []int
	scratch [][]byte
	rxMP    []*pool.Mempool
}

// Device is one kernel interface. Control calls are serialized by ctl;
// bursts read the open sockets with one atomic load. Stop must not overlap
// a burst on the same device: a closed descriptor number may be reused.
type Device struct {
	ifname  string
	ifindex int
	info    ethdev.DevInfo

	ctl        sync.Mutex
	nRxq, nTxq int
	rxMP       []*pool.Mempool
	live       atomic.Pointer[sockets] // nil while stopped
	missed     atomic.Uint64
}

// Open looks up ifname over netlink.
func Open(ifname string) (*Device, error) {
	link, err := netlink.LinkByName(ifname)
	if err != nil {
		return nil, api.NewError(api.ErrCodeDeviceNotFound, "af_packet: "+err.Error()).
			WithContext("ifname", ifname)
	}
	attrs := link.Attrs()
	d := &Device{ifname: ifname, ifindex: attrs.Index}
	d.info = ethdev.DevInfo{
		Driver:      "af_packet",
		IfName:      ifname,
		MaxRxQueues: max(attrs.NumRxQueues, 1),
		MaxTxQueues: max(attrs.NumTxQueues, 1),
		MaxRxPktLen: attrs.MTU + pool.EtherHdrLen + pool.EtherCRCLen,
		Node:        readSysInt(ifname, "device/numa_node", -1),
		HWAddr:      attrs.HardwareAddr,
	}
	return d, nil
}

func (d *Device) Info() ethdev.DevInfo { return d.info }

func (d *Device) Configure(nRxq, nTxq int) error {
	if nRxq < 1 || nRxq > d.info.MaxRxQueues || nTxq < 1 || nTxq > d.info.MaxTxQueues {
		return fmt.Errorf("%s: %d rx / %d tx queues out of range", d.ifname, nRxq, nTxq)
	}
	d.ctl.Lock()
	defer d.ctl.Unlock()
	d.closeAll()
	d.nRxq, d.nTxq = nRxq, nTxq
	d.rxMP = make([]*pool.Mempool, nRxq)
	return nil
}

func (d *Device) SetupTxQueue(qid, _ int) error {
	d.ctl.Lock()
	defer d.ctl.Unlock()
	if qid < 0 || qid >= d.nTxq {
		return fmt.Errorf("%s: tx queue %d not configured", d.ifname, qid)
	}
	return nil
}

func (d *Device) SetupRxQueue(qid, _ int, mp *pool.Mempool) error {
	d.ctl.Lock()
	defer d.ctl.Unlock()
	if qid < 0 || qid >= d.nRxq {
		return fmt.Errorf("%s: rx queue %d not configured", d.ifname, qid)
	}
	d.rxMP[qid] = mp
	return nil
}

// Start opens the sockets of every configured queue.
func (d *Device) Start() error {
	d.ctl.Lock()
	defer d.ctl.Unlock()
	if d.live.Load() != nil {
		return nil
	}
	if d.nRxq == 0 {
		return fmt.Errorf("%s: not configured", d.ifname)
	}
	s := &sockets{rxMP: append([]*pool.Mempool(nil), d.rxMP...)}
	group := int(fanoutSeq.Add(1) & 0xffff)
	for i := 0; i < d.nRxq; i++ {
		fd, err := d.socket()
		if err != nil {
			s.close()
			return err
		}
		s.rx = append(s.rx, fd)
		s.scratch = append(s.scratch, make([]byte, 1<<16))
		if d.nRxq > 1 {
			arg := group | unix.PACKET_FANOUT_HASH<<16
			if err := unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_FANOUT, arg); err != nil {
				s.close()
				return fmt.Errorf("%s: fanout: %w", d.ifname, err)
			}
		}
	}
	for i := 0; i < d.nTxq; i++ {
		fd, err := d.socket()
		if err != nil {
			s.close()
			return err
		}
		s.tx = append(s.tx, fd)
	}
	if link, err := netlink.LinkByIndex(d.ifindex); err == nil {
		_ = netlink.LinkSetUp(link)
	}
	d.live.Store(s)
	return nil
}

func (d *Device) socket() (int, error) {
	proto := int(htons(unix.ETH_P_ALL))
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return -1, fmt.Errorf("%s: socket: %w", d.ifname, err)
	}
	sa := &unix.SockaddrLinklayer{Protocol: htons(unix.ETH_P_ALL), Ifindex: d.ifindex}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("%s: bind: %w", d.ifname, err)
	}
	return fd, nil
}

func (s *sockets) close() {
	for _, fd := range s.rx {
		unix.Close(fd)
	}
	for _, fd := range s.tx {
		unix.Close(fd)
	}
}

// closeAll unpublishes and closes the sockets. Caller holds d.ctl.
func (d *Device) closeAll() {
	s := d.live.Swap(nil)
	if s == nil {
		return
	}
	for _, fd := range s.rx {
		d.collectDrops(fd)
	}
	s.close()
}

func (d *Device) Stop() {
	d.ctl.Lock()
	defer d.ctl.Unlock()
	d.closeAll()
}

func (d *Device) SetPromisc(on bool) {
	link, err := netlink.LinkByIndex(d.ifindex)
	if err != nil {
		return
	}
	if on {
		_ = netlink.SetPromiscOn(link)
	} else {
		_ = netlink.SetPromiscOff(link)
	}
}

// LinkStatus reads the operational state from netlink and the speed from sysfs.
func (d *Device) LinkStatus() ethdev.LinkStatus {
	link, err := netlink.LinkByIndex(d.ifindex)
	if err != nil {
		return ethdev.LinkStatus{}
	}
	attrs := link.Attrs()
	up := attrs.OperState == netlink.OperUp ||
		(attrs.OperState == netlink.OperUnknown && attrs.RawFlags&unix.IFF_RUNNING != 0)
	if !up {
		return ethdev.LinkStatus{}
	}
	speed := readSysInt(d.ifname, "speed", 0)
	return ethdev.LinkStatus{
		Up:         true,
		SpeedMbps:  uint32(max(speed, 0)),
		FullDuplex: readSysString(d.ifname, "duplex") == "full",
	}
}

// RxBurst reads ready frames without blocking, copying each into a buffer
// from the pool the queue was set up with.
func (d *Device) RxBurst(qid int, pkts []*pool.Mbuf) int {
	s := d.live.Load()
	if s == nil || qid >= len(s.rx) || len(pkts) == 0 {
		return 0
	}
	fd, buf := s.rx[qid], s.scratch[qid]
	mp := s.rxMP[qid]
	n := 0
	for n < len(pkts) {
		sz, _, err := unix.Recvfrom(fd, buf, unix.MSG_DONTWAIT)
		if err != nil || sz <= 0 {
			break
		}
		if mp == nil {
			d.missed.Add(1)
			continue
		}
		m, err := mp.Get()
		if err != nil {
			d.missed.Add(1)
			break
		}
		if err := m.SetData(buf[:sz]); err != nil {
			m.Release()
			continue
		}
		pkts[n] = m
		n++
	}
	return n
}

// TxBurst writes frames until the socket would block and releases the
// written buffers.
func (d *Device) TxBurst(qid int, pkts []*pool.Mbuf) int {
	s := d.live.Load()
	if s == nil || qid >= len(s.tx) {
		return 0
	}
	fd := s.tx[qid]
	n := 0
	for _, m := range pkts {
		if _, err := unix.Write(fd, m.Bytes()); err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.ENOBUFS) {
				break
			}
		}
		m.Release()
		n++
	}
	return n
}

// HWStats reports kernel drops and interface error counters.
func (d *Device) HWStats() ethdev.HWStats {
	d.ctl.Lock()
	if s := d.live.Load(); s != nil {
		for _, fd := range s.rx {
			d.collectDrops(fd)
		}
	}
	d.ctl.Unlock()
	st := ethdev.HWStats{RxMissed: d.missed.Load()}
	if link, err := netlink.LinkByIndex(d.ifindex); err == nil {
		if s := link.Attrs().Statistics; s != nil {
			st.RxErrors = s.RxErrors
			st.TxErrors = s.TxErrors
		}
	}
	return st
}

// collectDrops folds PACKET_STATISTICS, which resets on read, into missed.
func (d *Device) collectDrops(fd int) {
	if s, err := unix.GetsockoptTpacketStats(fd, unix.SOL_PACKET, unix.PACKET_STATISTICS); err == nil {
		d.missed.Add(uint64(s.Drops))
	}
}

func readSysString(ifname, attr string) string {
	b, err := os.ReadFile("/sys/class/net/" + ifname + "/" + attr)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func readSysInt(ifname, attr string, def int) int {
	v, err := strconv.Atoi(readSysString(ifname, attr))
	if err != nil {
		return def
	}
	return v
}
