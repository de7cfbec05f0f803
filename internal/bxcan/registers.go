package bxcan

import "github.com/kstaniek/go-bxcan/internal/regs"

// Fixed hardware resources of one controller instance.
const (
	NumTxMailboxes = 3
	NumRxFIFOs     = 2
	NumFilterBanks = 28

	// BlockSize is the span of the register block in bytes.
	BlockSize = 0x400
	// CAN1Base is the physical address of CAN1 on STM32F4 parts.
	CAN1Base = 0x40006400
)

// Register offsets inside the block.
const (
	offMCR   = 0x000
	offMSR   = 0x004
	offTSR   = 0x008
	offRF0R  = 0x00C
	offRF1R  = 0x010
	offIER   = 0x014
	offESR   = 0x018
	offBTR   = 0x01C
	offTI0R  = 0x180
	offRI0R  = 0x1B0
	offFMR   = 0x200
	offFM1R  = 0x204
	offFS1R  = 0x20C
	offFFA1R = 0x214
	offFA1R  = 0x21C
	offF0R1  = 0x240

	mailboxStride = 0x10
	bankStride    = 0x08
)

// Master control and status.
var (
	MCR_INRQ  = regs.Bit("MCR.INRQ", offMCR, 0, regs.ReadWrite)
	MCR_SLEEP = regs.Bit("MCR.SLEEP", offMCR, 1, regs.ReadWrite)
	MCR_TXFP  = regs.Bit("MCR.TXFP", offMCR, 2, regs.ReadWrite)
	MCR_ABOM  = regs.Bit("MCR.ABOM", offMCR, 6, regs.ReadWrite)
	MCR_RESET = regs.Bit("MCR.RESET", offMCR, 15, regs.Set1)
	MCR_DBF   = regs.Bit("MCR.DBF", offMCR, 16, regs.ReadWrite)

	MSR_INAK = regs.Bit("MSR.INAK", offMSR, 0, regs.ReadOnly)
	MSR_SLAK = regs.Bit("MSR.SLAK", offMSR, 1, regs.ReadOnly)
	MSR_ERRI = regs.Bit("MSR.ERRI", offMSR, 2, regs.Clear1)
	MSR_TXM  = regs.Bit("MSR.TXM", offMSR, 8, regs.ReadOnly)
	MSR_RXM  = regs.Bit("MSR.RXM", offMSR, 9, regs.ReadOnly)

	IER = regs.Word("IER", offIER)
)

// Error status.
var (
	ESR_EWGF = regs.Bit("ESR.EWGF", offESR, 0, regs.ReadOnly)
	ESR_EPVF = regs.Bit("ESR.EPVF", offESR, 1, regs.ReadOnly)
	ESR_BOFF = regs.Bit("ESR.BOFF", offESR, 2, regs.ReadOnly)
	ESR_LEC  = regs.Field{Name: "ESR.LEC", Offset: offESR, Shift: 4, Width: 3}
	ESR_TEC  = regs.Field{Name: "ESR.TEC", Offset: offESR, Shift: 16, Width: 8, Kind: regs.ReadOnly}
	ESR_REC  = regs.Field{Name: "ESR.REC", Offset: offESR, Shift: 24, Width: 8, Kind: regs.ReadOnly}
)

// Bit timing. Timing fields hold the value minus one.
var (
	BTR_BRP  = regs.Field{Name: "BTR.BRP", Offset: offBTR, Shift: 0, Width: 10}
	BTR_TS1  = regs.Field{Name: "BTR.TS1", Offset: offBTR, Shift: 16, Width: 4}
	BTR_TS2  = regs.Field{Name: "BTR.TS2", Offset: offBTR, Shift: 20, Width: 3}
	BTR_SJW  = regs.Field{Name: "BTR.SJW", Offset: offBTR, Shift: 24, Width: 2}
	BTR_LBKM = regs.Bit("BTR.LBKM", offBTR, 30, regs.ReadWrite)
	BTR_SILM = regs.Bit("BTR.SILM", offBTR, 31, regs.ReadWrite)
)

// Filter master.
var (
	FMR_FINIT = regs.Bit("FMR.FINIT", offFMR, 0, regs.ReadWrite)
	FA1R_ALL  = regs.Field{Name: "FA1R", Offset: offFA1R, Width: NumFilterBanks}
)

// TxMailbox names the registers of one transmit mailbox.
type TxMailbox struct {
	TIR  regs.Field // identifier word
	TXRQ regs.Field
	DLC  regs.Field
	TDLR regs.Field
	TDHR regs.Field

	// Status bits in TSR.
	TME  regs.Field
	RQCP regs.Field
	TXOK regs.Field
	ALST regs.Field
	TERR regs.Field
	ABRQ regs.Field
}

// RxFIFO names the registers of one receive FIFO output mailbox.
type RxFIFO struct {
	RIR  regs.Field
	DLC  regs.Field
	FMI  regs.Field
	RDLR regs.Field
	RDHR regs.Field

	FMP  regs.Field
	FULL regs.Field
	FOVR regs.Field
	RFOM regs.Field
}

// FilterBank names the registers and configuration bits of one filter bank.
type FilterBank struct {
	FACT regs.Field // activation, FA1R
	FBM  regs.Field // 0 mask mode, 1 identifier list, FM1R
	FSC  regs.Field // 0 dual 16-bit, 1 single 32-bit, FS1R
	FFA  regs.Field // FIFO assignment, FFA1R
	FR1  regs.Field
	FR2  regs.Field
}

var TxMailboxes = [NumTxMailboxes]TxMailbox{txMailbox(0), txMailbox(1), txMailbox(2)}

var RxFIFOs = [NumRxFIFOs]RxFIFO{rxFIFO(0, offRF0R), rxFIFO(1, offRF1R)}

var FilterBanks = func() (b [NumFilterBanks]FilterBank) {
	for i := range b {
		b[i] = filterBank(i)
	}
	return b
}()

func txMailbox(i int) TxMailbox {
	base := uint32(offTI0R + i*mailboxStride)
	status := uint8(8 * i)
	n := string(rune('0' + i))
	return TxMailbox{
		TIR:  regs.Word("TI"+n+"R", base),
		TXRQ: regs.Bit("TI"+n+"R.TXRQ", base, 0, regs.ReadWrite),
		DLC:  regs.Field{Name: "TDT" + n + "R.DLC", Offset: base + 4, Width: 4},
		TDLR: regs.Word("TDL"+n+"R", base+8),
		TDHR: regs.Word("TDH"+n+"R", base+12),
		TME:  regs.Bit("TSR.TME"+n, offTSR, uint8(26+i), regs.ReadOnly),
		RQCP: regs.Bit("TSR.RQCP"+n, offTSR, status, regs.Clear1),
		TXOK: regs.Bit("TSR.TXOK"+n, offTSR, status+1, regs.Clear1),
		ALST: regs.Bit("TSR.ALST"+n, offTSR, status+2, regs.Clear1),
		TERR: regs.Bit("TSR.TERR"+n, offTSR, status+3, regs.Clear1),
		ABRQ: regs.Bit("TSR.ABRQ"+n, offTSR, status+7, regs.Set1),
	}
}

func rxFIFO(i int, status uint32) RxFIFO {
	base := uint32(offRI0R + i*mailboxStride)
	n := string(rune('0' + i))
	return RxFIFO{
		RIR:  regs.Field{Name: "RI" + n + "R", Offset: base, Width: 32, Kind: regs.ReadOnly},
		DLC:  regs.Field{Name: "RDT" + n + "R.DLC", Offset: base + 4, Width: 4, Kind: regs.ReadOnly},
		FMI:  regs.Field{Name: "RDT" + n + "R.FMI", Offset: base + 4, Shift: 8, Width: 8, Kind: regs.ReadOnly},
		RDLR: regs.Field{Name: "RDL" + n + "R", Offset: base + 8, Width: 32, Kind: regs.ReadOnly},
		RDHR: regs.Field{Name: "RDH" + n + "R", Offset: base + 12, Width: 32, Kind: regs.ReadOnly},
		FMP:  regs.Field{Name: "RF" + n + "R.FMP", Offset: status, Width: 2, Kind: regs.ReadOnly},
		FULL: regs.Bit("RF"+n+"R.FULL", status, 3, regs.Clear1),
		FOVR: regs.Bit("RF"+n+"R.FOVR", status, 4, regs.Clear1),
		RFOM: regs.Bit("RF"+n+"R.RFOM", status, 5, regs.Set1),
	}
}

func filterBank(i int) FilterBank {
	bit := uint8(i)
	base := uint32(offF0R1 + i*bankStride)
	return FilterBank{
		FACT: regs.Bit("FA1R.FACT", offFA1R, bit, regs.ReadWrite),
		FBM:  regs.Bit("FM1R.FBM", offFM1R, bit, regs.ReadWrite),
		FSC:  regs.Bit("FS1R.FSC", offFS1R, bit, regs.ReadWrite),
		FFA:  regs.Bit("FFA1R.FFA", offFFA1R, bit, regs.ReadWrite),
		FR1:  regs.Word("FR1", base),
		FR2:  regs.Word("FR2", base+4),
	}
}

// ResetValues loads the documented reset state into a register file:
// sleep requested and acknowledged, all mailboxes empty, filters in init mode.
func ResetValues(m *regs.Memory) {
	m.Store(offMCR, 0x00010002)
	m.Store(offMSR, 0x00000C02)
	m.Store(offTSR, 0x1C000000)
	m.Store(offBTR, 0x01230000)
	m.Store(offFMR, 0x2A1C0E01)
}
