package memory

// Rom is read-only memory. Writes are silently ignored; bytes past the end
// of Data read as zero up to the mapped size.
type Rom struct {
	Data []byte
}

var _ Chip = (*Rom)(nil)

// Peek reads a single byte.
func (rom *Rom) Peek(offset uint64) uint8 {
	if offset >= uint64(len(rom.Data)) {
		return 0
	}
	return rom.Data[offset]
}

// Poke is ignored.
func (rom *Rom) Poke(offset uint64, value uint8) {
}
