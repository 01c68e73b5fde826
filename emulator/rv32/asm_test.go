package rv32

import "encoding/binary"

// Instruction encoders for hand-assembled test programs.

func encR(op, rd, f3, rs1, rs2, f7 uint32) uint32 {
	return f7<<25 | rs2<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encI(op, rd, f3, rs1 uint32, imm int32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encS(f3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7f)<<25 | rs2<<20 | rs1<<15 | f3<<12 | (u&0x1f)<<7 | 0x23
}

func encB(f3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>12&1)<<31 | (u>>5&0x3f)<<25 | rs2<<20 | rs1<<15 | f3<<12 | (u>>1&0xf)<<8 | (u>>11&1)<<7 | 0x63
}

func encJ(rd uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>20&1)<<31 | (u>>1&0x3ff)<<21 | (u>>11&1)<<20 | (u>>12&0xff)<<12 | rd<<7 | 0x6f
}

func addi(rd, rs1 uint32, imm int32) uint32 { return encI(0x13, rd, 0, rs1, imm) }
func lui(rd, imm uint32) uint32 { return imm&0xfffff000 | rd<<7 | 0x37 }
func add(rd, rs1, rs2 uint32) uint32 { return encR(0x33, rd, 0, rs1, rs2, 0) }
func sub(rd, rs1, rs2 uint32) uint32 { return encR(0x33, rd, 0, rs1, rs2, 0x20) }
func mext(f3, rd, rs1, rs2 uint32) uint32 { return encR(0x33, rd, f3, rs1, rs2, 1) }
func lw(rd, rs1 uint32, imm int32) uint32 { return encI(0x03, rd, 2, rs1, imm) }
func lb(rd, rs1 uint32, imm int32) uint32 { return encI(0x03, rd, 0, rs1, imm) }
func lbu(rd, rs1 uint32, imm int32) uint32 { return encI(0x03, rd, 4, rs1, imm) }
func sw(rs2, rs1 uint32, imm int32) uint32 { return encS(2, rs1, rs2, imm) }
func sb(rs2, rs1 uint32, imm int32) uint32 { return encS(0, rs1, rs2, imm) }
func csrr(rd, csr uint32) uint32 { return encI(0x73, rd, 2, 0, int32(csr)) }
func csrw(csr, rs1 uint32) uint32 { return encI(0x73, 0, 1, rs1, int32(csr)) }

func amo(funct5, rd, rs1, rs2 uint32) uint32 {
	return encR(0x2f, rd, 2, rs1, rs2, funct5<<2)
}

const (
	ecall = 0x00000073
	wfi   = 0x10500073
	mret  = 0x30200073
)

// program lays instructions out from the start of a RAM image.
func program(size int, words ...uint32) []byte {
	ram := make([]byte, size)
	for i, w := range words {
		binary.LittleEndian.PutUint32(ram[4*i:], w)
	}
	return ram
}
