package membership

import (
	"io"

	"github.com/iidesho/roomsync/bcts"
)

func (r Record) WriteBytes(w io.Writer) error {
	err := bcts.WriteUInt8(w, uint8(0))
	if err != nil {
		return err
	}
	err = bcts.WriteUUID(w, r.EventID)
	if err != nil {
		return err
	}
	err = bcts.WriteSmallString(w, r.RoomID)
	if err != nil {
		return err
	}
	err = bcts.WriteSmallString(w, r.UserID)
	if err != nil {
		return err
	}
	err = bcts.WriteTinyString(w, r.Membership)
	if err != nil {
		return err
	}
	err = bcts.WriteSmallString(w, r.Sender)
	if err != nil {
		return err
	}
	err = bcts.WriteSmallString(w, r.Reason)
	if err != nil {
		return err
	}
	err = bcts.WriteTinyString(w, r.Writer)
	if err != nil {
		return err
	}
	return bcts.WriteUInt64(w, r.Position)
}

func (r *Record) ReadBytes(rd io.Reader) error {
	err := bcts.ReadVersion(rd, 0)
	if err != nil {
		return err
	}
	err = bcts.ReadUUID(rd, &r.EventID)
	if err != nil {
		return err
	}
	err = bcts.ReadSmallString(rd, &r.RoomID)
	if err != nil {
		return err
	}
	err = bcts.ReadSmallString(rd, &r.UserID)
	if err != nil {
		return err
	}
	err = bcts.ReadTinyString(rd, &r.Membership)
	if err != nil {
		return err
	}
	err = bcts.ReadSmallString(rd, &r.Sender)
	if err != nil {
		return err
	}
	err = bcts.ReadSmallString(rd, &r.Reason)
	if err != nil {
		return err
	}
	err = bcts.ReadTinyString(rd, &r.Writer)
	if err != nil {
		return err
	}
	return bcts.ReadUInt64(rd, &r.Position)
}
