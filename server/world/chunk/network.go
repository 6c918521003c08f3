package chunk

import (
	"bytes"
	"encoding/binary"
)

// EncodeNetwork writes the blocks and biomes of a SubChunk in the format sent
// to clients: the amount of non-air blocks as a big endian int16, followed by
// the block and biome containers. Each container is written as a bits-per-entry
// byte, a palette (absent for direct encodings) and its data words.
func (sub *SubChunk) EncodeNetwork(buf *bytes.Buffer, air uint32) {
	_ = binary.Write(buf, binary.BigEndian, int16(sub.blocks.NonAirCount(air)))
	writeContainer(buf, sub.blocks.Encode(NetworkBlockEncoding))
	writeContainer(buf, sub.biomes.Encode(NetworkBiomeEncoding))
}

func writeContainer(buf *bytes.Buffer, e Encoded[uint32]) {
	buf.WriteByte(byte(e.Bits))
	if e.Bits == 0 {
		buf.Write(binary.AppendUvarint(nil, uint64(e.Palette[0])))
	} else if e.Palette != nil {
		buf.Write(binary.AppendUvarint(nil, uint64(len(e.Palette))))
		for _, v := range e.Palette {
			buf.Write(binary.AppendUvarint(nil, uint64(v)))
		}
	}
	buf.Write(binary.AppendUvarint(nil, uint64(len(e.Data))))
	for _, w := range e.Data {
		_ = binary.Write(buf, binary.BigEndian, w)
	}
}
