package db

import (
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	meddler.Register("hash", HashMeddler{})
}

// HashMeddler maps the checkpoint table's nullable hex hash columns onto
// *common.Hash struct fields. NULL stands for "no cursor recorded yet",
// so the field must be a pointer: nil round-trips to NULL and back.
type HashMeddler struct{}

// PreRead returns the scan target for one hash column.
func (HashMeddler) PreRead(fieldAddr interface{}) (interface{}, error) {
	return new(sql.NullString), nil
}

// PostRead moves the scanned column value into the *common.Hash field.
func (HashMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("db: hash column scanned into %T, want *sql.NullString", scanTarget)
	}
	ptr, ok := fieldAddr.(**common.Hash)
	if !ok {
		return fmt.Errorf("db: hash column requires a *common.Hash field, got %T", fieldAddr)
	}
	if !ns.Valid || ns.String == "" {
		*ptr = nil
		return nil
	}
	h := common.HexToHash(ns.String)
	*ptr = &h
	return nil
}

// PreWrite converts the *common.Hash field into its column value.
func (HashMeddler) PreWrite(field interface{}) (interface{}, error) {
	ptr, ok := field.(*common.Hash)
	if !ok {
		return nil, fmt.Errorf("db: hash column requires a *common.Hash field, got %T", field)
	}
	if ptr == nil {
		return nil, nil
	}
	return ptr.Hex(), nil
}
