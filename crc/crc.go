// Package crc implements CRC-8 with polynomial 0x93, no reflection, no final xor.
// Used as frame trailer on the inter-module stream transport.
package crc

const Poly8 byte = 0x93

var table8 [256]byte

func init() {
	for i := 0; i < 256; i++ {
		table8[i] = reference8(0, byte(i))
	}
}

// bit-by-bit, only used to build table and in tests
func reference8(crc, data byte) byte {
	crc ^= data
	for i := 0; i < 8; i++ {
		if crc&0x80 != 0 {
			crc = (crc << 1) ^ Poly8
		} else {
			crc <<= 1
		}
	}
	return crc
}

func Update8(crc, data byte) byte { return table8[crc^data] }

func Sum8(crc byte, data []byte) byte {
	for _, b := range data {
		crc = table8[crc^b]
	}
	return crc
}
