package bxcansim_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/kstaniek/go-bxcan/internal/bxcan"
	"github.com/kstaniek/go-bxcan/internal/bxcansim"
	"github.com/kstaniek/go-bxcan/internal/can"
	"github.com/kstaniek/go-bxcan/internal/canif"
)

var timing500k = canif.TimingParameters{Prescaler: 6, Seg1: 11, Seg2: 2, JumpWidth: 1}

// settle retries op, stepping the model between attempts.
func settle(s *bxcansim.Sim, op func() error) error {
	for i := 0; i < 4; i++ {
		err := op()
		if !canif.IsWouldBlock(err) {
			return err
		}
		s.Step()
	}
	return canif.ErrWouldBlock
}

// mailboxWords reads the programmed words of every transmit mailbox.
func mailboxWords(s *bxcansim.Sim) [][4]uint32 {
	var out [][4]uint32
	for i := range bxcan.TxMailboxes {
		mb := &bxcan.TxMailboxes[i]
		out = append(out, [4]uint32{s.Read(mb.TIR), s.Read(mb.DLC), s.Read(mb.TDLR), s.Read(mb.TDHR)})
	}
	return out
}

func bringUp(opts ...bxcansim.Option) (*bxcansim.Sim, *bxcan.Controller) {
	s := bxcansim.New(opts...)
	c := bxcan.New(s)
	So(settle(s, func() error { return c.SetSpeed(timing500k) }), ShouldBeNil)
	So(settle(s, c.Start), ShouldBeNil)
	c.AddFilter(canif.MaskFilter(0, 0, false))
	c.AddFilter(canif.MaskFilter(0, 0, true))
	return s, c
}

func TestBringUp(t *testing.T) {
	Convey("A controller out of reset", t, func() {
		s := bxcansim.New()
		c := bxcan.New(s)

		Convey("is asleep and integrating", func() {
			So(c.IsAsleep(), ShouldBeTrue)
			So(c.CurrentOperationMode(), ShouldEqual, canif.Integrating)
		})

		Convey("needs one step to accept a new bit timing", func() {
			So(errors.Is(c.SetSpeed(timing500k), canif.ErrWouldBlock), ShouldBeTrue)
			s.Step()
			So(c.SetSpeed(timing500k), ShouldBeNil)
			So(c.Timing(), ShouldResemble, timing500k)
			s.Step()
			So(c.CurrentOperationMode(), ShouldEqual, canif.Idle)
			So(c.IsAsleep(), ShouldBeFalse)
		})

		Convey("goes to sleep and wakes up on request", func() {
			So(settle(s, c.Start), ShouldBeNil)
			c.RequestSleepMode()
			So(c.IsAsleep(), ShouldBeFalse)
			s.Step()
			So(c.IsAsleep(), ShouldBeTrue)
			c.RequestWakeup()
			s.Step()
			So(c.IsAsleep(), ShouldBeFalse)
		})
	})
}

func TestTransmit(t *testing.T) {
	Convey("A running controller", t, func() {
		var hooked []can.Frame
		s, c := bringUp(bxcansim.WithTransmitHook(func(f can.Frame) { hooked = append(hooked, f) }))
		fr := can.Frame{ID: 0x123, DLC: 2, Data: [8]byte{0xCA, 0xFE}}

		Convey("puts a frame on the bus on the next step", func() {
			So(c.Transmit(fr), ShouldBeNil)
			So(c.FreeMailboxes(), ShouldEqual, 2)
			s.Step()
			So(s.Sent(), ShouldResemble, []can.Frame{fr})
			So(hooked, ShouldResemble, []can.Frame{fr})
			res := c.PollCompletions()
			So(len(res), ShouldEqual, 1)
			So(res[0].Err(), ShouldBeNil)
			So(c.FreeMailboxes(), ShouldEqual, 3)
		})

		Convey("would block with three requests pending", func() {
			for i := 0; i < bxcan.NumTxMailboxes; i++ {
				So(c.Transmit(can.Frame{ID: 0x10 + uint32(i), DLC: 1, Data: [8]byte{byte(i)}}), ShouldBeNil)
			}
			before := mailboxWords(s)
			So(errors.Is(c.Transmit(can.Frame{ID: 0x7FF, DLC: 8, Data: [8]byte{0xFF}}), canif.ErrWouldBlock), ShouldBeTrue)
			So(mailboxWords(s), ShouldResemble, before)
			s.Step()
			So(c.Transmit(fr), ShouldBeNil)
		})

		Convey("sends the lowest identifier first", func() {
			for _, id := range []uint32{0x300, 0x100, 0x200} {
				So(c.Transmit(can.Frame{ID: id}), ShouldBeNil)
			}
			s.Step()
			sent := s.Sent()
			So(len(sent), ShouldEqual, 3)
			So(sent[0].ID, ShouldEqual, uint32(0x100))
			So(sent[1].ID, ShouldEqual, uint32(0x200))
			So(sent[2].ID, ShouldEqual, uint32(0x300))
		})

		Convey("keeps request order with FIFO priority", func() {
			s.Write(bxcan.MCR_TXFP, 1)
			for _, id := range []uint32{0x300, 0x100, 0x200} {
				So(c.Transmit(can.Frame{ID: id}), ShouldBeNil)
			}
			s.Step()
			sent := s.Sent()
			So(sent[0].ID, ShouldEqual, uint32(0x300))
			So(sent[2].ID, ShouldEqual, uint32(0x200))
		})

		Convey("holds requests while bus-off", func() {
			s.SetBusOff(true)
			So(c.FaultConfinementState(), ShouldEqual, canif.BusOff)
			So(c.Transmit(fr), ShouldBeNil)
			s.Step()
			So(s.Sent(), ShouldBeEmpty)
			s.SetBusOff(false)
			s.Step()
			So(len(s.Sent()), ShouldEqual, 1)
		})

		Convey("in silent mode fails for lack of acknowledgement", func() {
			So(settle(s, func() error { return c.SetBusMonitoring(true) }), ShouldBeNil)
			s.Step()
			So(c.InBusMonitoringMode(), ShouldBeTrue)
			So(c.Transmit(fr), ShouldBeNil)
			s.Step()
			So(s.Sent(), ShouldBeEmpty)
			res := c.PollCompletions()
			So(len(res), ShouldEqual, 1)
			So(errors.Is(res[0].Err(), canif.ErrCodeTxFailed), ShouldBeTrue)
			So(c.LastErrorCode(), ShouldEqual, bxcan.LECAck)
		})
	})
}

func TestReceive(t *testing.T) {
	Convey("A running controller with accept-all filters", t, func() {
		s, c := bringUp()

		Convey("returns injected frames in order with their filter index", func() {
			std := can.Frame{ID: 0x7FF, DLC: 1, Data: [8]byte{1}}
			ext := can.Frame{ID: 0x18FF50E5, Extended: true, DLC: 8, Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}
			So(s.Inject(std), ShouldBeTrue)
			So(s.Inject(ext), ShouldBeTrue)

			r, err := c.ReceiveWithMatch()
			So(err, ShouldBeNil)
			So(r.Frame, ShouldResemble, std)
			So(r.FilterMatch, ShouldEqual, uint8(0))

			r, err = c.ReceiveWithMatch()
			So(err, ShouldBeNil)
			So(r.Frame, ShouldResemble, ext)
			So(r.FilterMatch, ShouldEqual, uint8(1))

			_, err = c.Receive()
			So(errors.Is(err, canif.ErrWouldBlock), ShouldBeTrue)
		})

		Convey("reports an overrun once and keeps the newest frame", func() {
			for id := uint32(1); id <= bxcansim.FIFODepth+1; id++ {
				So(s.Inject(can.Frame{ID: id}), ShouldBeTrue)
			}
			_, err := c.Receive()
			var hw canif.HardwareError
			So(errors.As(err, &hw), ShouldBeTrue)
			So(hw, ShouldEqual, canif.ErrCodeRxOverrun)

			var ids []uint32
			for {
				f, err := c.Receive()
				if err != nil {
					So(errors.Is(err, canif.ErrWouldBlock), ShouldBeTrue)
					break
				}
				ids = append(ids, f.ID)
			}
			So(ids, ShouldResemble, []uint32{1, 2, 4})
		})
	})

	Convey("A controller with a single exact filter", t, func() {
		s := bxcansim.New()
		c := bxcan.New(s)
		So(settle(s, c.Start), ShouldBeNil)
		c.AddFilter(canif.ExactFilter(0x123, false))

		Convey("drops everything else", func() {
			So(s.Inject(can.Frame{ID: 0x124}), ShouldBeFalse)
			So(s.Inject(can.Frame{ID: 0x123, Extended: true}), ShouldBeFalse)
			So(s.Inject(can.Frame{ID: 0x123, Remote: true}), ShouldBeFalse)
			So(s.Inject(can.Frame{ID: 0x123}), ShouldBeTrue)
			So(s.Pending(0), ShouldEqual, 1)
		})

		Convey("receives nothing once the filter is removed", func() {
			c.RemoveFilter(canif.ExactFilter(0x123, false))
			So(s.Inject(can.Frame{ID: 0x123}), ShouldBeFalse)
		})
	})
}

func TestLoopback(t *testing.T) {
	Convey("In loop back mode", t, func() {
		s, c := bringUp()
		So(settle(s, func() error { return c.SetLoopback(true) }), ShouldBeNil)
		s.Step()

		Convey("transmitted frames come back through the filters", func() {
			fr := can.Frame{ID: 0x42, DLC: 1, Data: [8]byte{9}}
			So(c.Transmit(fr), ShouldBeNil)
			s.Step()
			got, err := c.Receive()
			So(err, ShouldBeNil)
			So(got, ShouldResemble, fr)
		})

		Convey("the bus input is ignored", func() {
			So(s.Inject(can.Frame{ID: 1}), ShouldBeFalse)
		})
	})
}

func TestErrorCounters(t *testing.T) {
	Convey("Error counters drive the confinement state", t, func() {
		s, c := bringUp()
		s.SetErrorCounters(100, 5)
		So(c.FaultConfinementState(), ShouldEqual, canif.ErrorActive)
		s.SetErrorCounters(130, 5)
		So(c.FaultConfinementState(), ShouldEqual, canif.ErrorPassive)
		So(c.ReceiveErrorCount(), ShouldEqual, uint32(130))
		So(c.TransmitErrorCount(), ShouldEqual, uint32(5))
	})
}

func TestRunWithSynchronized(t *testing.T) {
	Convey("A synchronized controller stepped in the background", t, func() {
		s, c := bringUp()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go s.Run(ctx, time.Millisecond)
		ci := canif.Synchronized(c)

		Convey("drains more frames than it has mailboxes", func() {
			sent := 0
			deadline := time.Now().Add(2 * time.Second)
			for sent < 10 && time.Now().Before(deadline) {
				if err := ci.Transmit(can.Frame{ID: uint32(sent)}); err == nil {
					sent++
				} else {
					So(canif.IsWouldBlock(err), ShouldBeTrue)
					time.Sleep(time.Millisecond)
				}
			}
			So(sent, ShouldEqual, 10)
		})
	})
}
