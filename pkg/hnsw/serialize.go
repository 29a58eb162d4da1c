package hnsw

import (
	"encoding/binary"
	"math"
	"sort"
)

const wireMagic uint32 = 0x48534E57

// Serialize encodes the index into the wire format: a fixed 18-byte
// header (magic, dimension, M, node count, level max, entry point id)
// followed by nodes in ascending id order, each with its id, rawLevel,
// layerCount, vector, tombstone flag, and per-layer neighbor lists.
// rawLevel and layerCount are redundant (layerCount == rawLevel+1) but
// both are part of the wire contract. The metric is not persisted;
// Deserialize always reconstructs a cosine index with
// efConstruction=100.
func (idx *Index) Serialize() []byte {
	buf := make([]byte, 0, 18+len(idx.nodes)*64)
	var u32 [4]byte
	var u16 [2]byte

	binary.LittleEndian.PutUint32(u32[:], wireMagic)
	buf = append(buf, u32[:]...)

	dim := uint16(0)
	if idx.hasDimension {
		dim = uint16(idx.dimension)
	}
	binary.LittleEndian.PutUint16(u16[:], dim)
	buf = append(buf, u16[:]...)

	binary.LittleEndian.PutUint16(u16[:], uint16(idx.m))
	buf = append(buf, u16[:]...)

	binary.LittleEndian.PutUint32(u32[:], uint32(len(idx.nodes)))
	buf = append(buf, u32[:]...)

	binary.LittleEndian.PutUint16(u16[:], uint16(idx.levelMax))
	buf = append(buf, u16[:]...)

	ep := uint32(math.MaxUint32)
	if idx.hasEntryPoint {
		ep = idx.entryPointID
	}
	binary.LittleEndian.PutUint32(u32[:], ep)
	buf = append(buf, u32[:]...)

	ids := make([]uint32, 0, len(idx.nodes))
	for id := range idx.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		n := idx.nodes[id]

		binary.LittleEndian.PutUint32(u32[:], n.ID)
		buf = append(buf, u32[:]...)

		buf = append(buf, byte(n.Level))
		buf = append(buf, byte(len(n.Neighbors)))

		for _, v := range n.Vector {
			binary.LittleEndian.PutUint32(u32[:], math.Float32bits(v))
			buf = append(buf, u32[:]...)
		}

		if n.Deleted {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}

		for _, layer := range n.Neighbors {
			binary.LittleEndian.PutUint16(u16[:], uint16(len(layer)))
			buf = append(buf, u16[:]...)
			for _, nid := range layer {
				binary.LittleEndian.PutUint32(u32[:], nid)
				buf = append(buf, u32[:]...)
			}
		}
	}

	return buf
}

// Deserialize reconstructs an Index from Serialize's wire format.
// The reconstructed index always uses the cosine metric with
// efConstruction=100, since the metric isn't part of the wire format.
func Deserialize(data []byte) (*Index, error) {
	if len(data) < 18 {
		return nil, serializationErrorf("file too short")
	}

	cursor := 0
	magic := binary.LittleEndian.Uint32(data[cursor:])
	cursor += 4
	if magic != wireMagic {
		return nil, serializationErrorf("invalid magic")
	}

	dimension := int(binary.LittleEndian.Uint16(data[cursor:]))
	cursor += 2
	m := int(binary.LittleEndian.Uint16(data[cursor:]))
	cursor += 2
	nodeCount := int(binary.LittleEndian.Uint32(data[cursor:]))
	cursor += 4
	levelMax := uint8(binary.LittleEndian.Uint16(data[cursor:]))
	cursor += 2
	epRaw := binary.LittleEndian.Uint32(data[cursor:])
	cursor += 4

	idx := New(Config{M: m, EfConstruction: 100, Metric: Cosine})
	idx.dimension = dimension
	idx.hasDimension = true
	idx.levelMax = levelMax
	if epRaw != math.MaxUint32 {
		idx.entryPointID = epRaw
		idx.hasEntryPoint = true
	}

	for i := 0; i < nodeCount; i++ {
		if cursor+4+2 > len(data) {
			return nil, serializationErrorf("unexpected EOF reading node header")
		}
		id := binary.LittleEndian.Uint32(data[cursor:])
		cursor += 4

		rawLevel := data[cursor]
		cursor++
		levelCount := int(data[cursor])
		cursor++
		level := uint8(rawLevel)

		vecSize := dimension * 4
		if cursor+vecSize > len(data) {
			return nil, serializationErrorf("unexpected EOF reading vector")
		}
		vec := make([]float32, dimension)
		for j := 0; j < dimension; j++ {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[cursor:]))
			cursor += 4
		}

		if cursor >= len(data) {
			return nil, serializationErrorf("unexpected EOF reading deleted flag")
		}
		deleted := data[cursor] != 0
		cursor++

		neighbors := make([][]uint32, levelCount)
		for l := 0; l < levelCount; l++ {
			if cursor+2 > len(data) {
				return nil, serializationErrorf("unexpected EOF reading neighbor count")
			}
			neighborCount := int(binary.LittleEndian.Uint16(data[cursor:]))
			cursor += 2

			layer := make([]uint32, neighborCount)
			for k := 0; k < neighborCount; k++ {
				if cursor+4 > len(data) {
					return nil, serializationErrorf("unexpected EOF reading neighbor")
				}
				layer[k] = binary.LittleEndian.Uint32(data[cursor:])
				cursor += 4
			}
			neighbors[l] = layer
		}

		n := newNode(id, level, vec, 0)
		n.Neighbors = neighbors
		n.Deleted = deleted
		idx.nodes[id] = n
	}

	return idx, nil
}
