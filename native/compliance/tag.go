package compliance

import (
	"encoding/binary"

	"lukechampine.com/blake3"

	"fluxrisk/crypto"
)

var tagDomain = []byte("fluxrisk/compliance/action/v1")

// actionTag is the first eight bytes of a BLAKE3 digest over the owner, the
// slot and the record contents. The Tag field itself is excluded.
func actionTag(owner crypto.Address, slot uint8, record ActionRecord) [8]byte {
	var buf [1 + 1 + 8 + 8]byte
	buf[0] = slot
	buf[1] = byte(record.Kind)
	binary.BigEndian.PutUint64(buf[2:10], record.Amount)
	binary.BigEndian.PutUint64(buf[10:18], uint64(record.Timestamp))

	h := blake3.New(32, nil)
	h.Write(tagDomain)
	raw := owner.Raw()
	h.Write(raw[:])
	h.Write(buf[:])
	var tag [8]byte
	copy(tag[:], h.Sum(nil))
	return tag
}
