package report

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

var ErrCorrupt = errors.New("report: exported history is corrupt")

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Export writes ah to w in deterministic CBOR
func (ah AllHistory) Export(w io.Writer) error {
	return encMode.NewEncoder(w).Encode(ah)
}

// Import reads an AllHistory written by Export.
// Every imported history must be dense and owned by the worker it is keyed by.
func Import(r io.Reader) (AllHistory, error) {
	var ah AllHistory
	if err := cbor.NewDecoder(r).Decode(&ah); err != nil {
		return AllHistory{}, fmt.Errorf("report: decoding history: %w", err)
	}
	for id, h := range ah.Histories {
		if h.Owner != id || !h.Dense() {
			return AllHistory{}, fmt.Errorf("%w: history of worker %v", ErrCorrupt, id)
		}
	}
	return ah, nil
}
