package fetcher

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// DecodeJSONArray streams the elements of a top-level JSON array. Both
// channels are closed when decoding ends.
func DecodeJSONArray[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		if err := decodeArray(ctx, json.NewDecoder(r), func(item T) bool {
			select {
			case outCh <- item:
				return true
			case <-ctx.Done():
				return false
			}
		}); err != nil {
			errCh <- err
			return
		}
		if ctx.Err() != nil {
			errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
		}
	}()

	return outCh, errCh
}

// decodeArray expects the decoder to be positioned before '['. emit
// returning false stops decoding.
func decodeArray[T any](ctx context.Context, dec *json.Decoder, emit func(T) bool) error {
	tok, err := dec.Token()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "json: read opening token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return eris.Errorf("json: expected '[', got %v", tok)
	}

	for dec.More() {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "json: context cancelled")
		}
		var item T
		if err := dec.Decode(&item); err != nil {
			return eris.Wrap(err, "json: decode element")
		}
		if !emit(item) {
			return nil
		}
	}

	if _, err := dec.Token(); err != nil {
		return eris.Wrap(err, "json: read closing token")
	}
	return nil
}

// DecodeJSONRecords reads a feed body into a slice. The body is either an
// array or an object holding the array under key.
func DecodeJSONRecords[T any](ctx context.Context, r io.Reader, key string) ([]T, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "json: peek")
	}

	dec := json.NewDecoder(br)
	if first == '{' {
		if key == "" {
			return nil, eris.New("json: body is an object but no records key is configured")
		}
		if err := seekKey(dec, key); err != nil {
			return nil, err
		}
	}

	var out []T
	err = decodeArray(ctx, dec, func(item T) bool {
		out = append(out, item)
		return true
	})
	return out, err
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

// seekKey advances dec past the opening '{' to the value of key.
func seekKey(dec *json.Decoder, key string) error {
	if _, err := dec.Token(); err != nil {
		return eris.Wrap(err, "json: read opening token")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return eris.Wrap(err, "json: read key")
		}
		if name, ok := tok.(string); ok && name == key {
			return nil
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return eris.Wrap(err, "json: skip value")
		}
	}
	return eris.Errorf("json: key %q not found", key)
}
