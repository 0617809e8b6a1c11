package wal_manager

import (
	"encoding/binary"
	"hash/crc32"
)

/*
Record framing on disk:

	LSN(8) | LEN(4) | CRC(4) | DATA(LEN)

CRC is CRC-32 (IEEE) over the LSN bytes followed by DATA, so a record copied
to another position in the log does not validate.
*/

func NewWALRecord(lsn uint64, data []byte) *WALRecord {
	return &WALRecord{LSN: lsn, Data: data, CRC: recordCRC(lsn, data)}
}

func (r *WALRecord) Encode() []byte {
	buf := make([]byte, RecordHeaderSize+len(r.Data))
	binary.BigEndian.PutUint64(buf, r.LSN)
	binary.BigEndian.PutUint32(buf[8:], uint32(len(r.Data)))
	binary.BigEndian.PutUint32(buf[12:], r.CRC)
	copy(buf[RecordHeaderSize:], r.Data)
	return buf
}

func (r *WALRecord) ValidateCRC() bool {
	return recordCRC(r.LSN, r.Data) == r.CRC
}

func recordCRC(lsn uint64, data []byte) uint32 {
	var lsnBytes [8]byte
	binary.BigEndian.PutUint64(lsnBytes[:], lsn)
	crc := crc32.Update(0, crc32.IEEETable, lsnBytes[:])
	return crc32.Update(crc, crc32.IEEETable, data)
}

func decodeHeader(hdr []byte) (lsn uint64, length uint32, crc uint32) {
	lsn = binary.BigEndian.Uint64(hdr)
	length = binary.BigEndian.Uint32(hdr[8:])
	crc = binary.BigEndian.Uint32(hdr[12:])
	return lsn, length, crc
}
