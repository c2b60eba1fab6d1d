// SPDX-License-Identifier: BSD-2-Clause

package vgraph

import (
	"fmt"

	"golang.org/x/text/encoding"
	ianaindex "golang.org/x/text/encoding/ianaindex"
)

// Transcoder converts comment text from a legacy charset to UTF-8.
type Transcoder struct {
	name    string
	decoder *encoding.Decoder
}

// NewTranscoder looks a charset up by its IANA name.
func NewTranscoder(charset string) (*Transcoder, error) {
	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil {
		return nil, fmt.Errorf("can't set up codec %s: %w", charset, err)
	}
	if enc == nil {
		// ianaindex knows the name but x/text has no implementation.
		return nil, fmt.Errorf("codec %s is not supported", charset)
	}
	return &Transcoder{name: charset, decoder: enc.NewDecoder()}, nil
}

// Name is the charset this transcoder reads.
func (t *Transcoder) Name() string {
	return t.name
}

// Transcode decodes one string.
func (t *Transcoder) Transcode(txt string) (string, error) {
	out, err := t.decoder.String(txt)
	if err != nil {
		return txt, fmt.Errorf("decode error during transcoding from %s: %w", t.name, err)
	}
	return out, nil
}
