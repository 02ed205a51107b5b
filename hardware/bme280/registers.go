package bme280

// Register map, same for BMP280 temperature channel.
const (
	RegCalibStart byte = 0x88 // dig_T1..dig_T3, 6 bytes little endian pairs
	RegID         byte = 0xD0
	RegReset      byte = 0xE0
	RegCtrlMeas   byte = 0xF4
	RegConfig     byte = 0xF5
	RegTempMSB    byte = 0xFA
	RegTempLSB    byte = 0xFB
	RegTempXLSB   byte = 0xFC
)

const (
	ChipIDBMP280 byte = 0x58
	ChipIDBME280 byte = 0x60
)

// Values written during Init.
const (
	CtrlMeasNormal byte = 0x27 // osrs_t=x1 osrs_p=x1 mode=normal
	ConfigStandby  byte = 0xA0 // t_sb=1000ms filter=off spi3w=off
)

const (
	spiReadFlag  byte = 0x80
	spiWriteMask byte = 0x7F
)

// Raw sample values which can not come from working sensor.
const (
	rawSkipped RawSample = 0x80000 // power-on value, measurement not performed
	rawLow     RawSample = 0x00000
	rawHigh    RawSample = 0xFFFFF
)
