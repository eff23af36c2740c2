/*
Copyright 2022

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package twse

import (
	"bytes"
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/traditionalchinese"
)

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// Decode converts an upstream payload of variable encoding to UTF-8 text.
// The upstreams have historically served BOM-prefixed UTF-8, plain UTF-8
// and Big5/CP950; each is attempted in turn. A payload that matches none
// of them is a terminal decode failure for the unit.
func Decode(raw []byte) (string, error) {
	return DecodeAs(raw, "")
}

// DecodeAs is Decode with the charset declared by the upstream response
// tried first. An empty or unrecognized charset falls through to the
// normal chain.
func DecodeAs(raw []byte, charset string) (string, error) {
	charset = strings.ToLower(charset)
	if strings.Contains(charset, "big5") || strings.Contains(charset, "950") {
		if text, ok := decodeBig5(raw); ok {
			return text, nil
		}
	}

	trimmed := bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(trimmed) {
		return string(trimmed), nil
	}
	if text, ok := decodeBig5(raw); ok {
		return text, nil
	}
	return "", unitErr(ErrDecode, errors.New("payload is neither UTF-8 nor Big5"))
}

func decodeBig5(raw []byte) (string, bool) {
	decoded, err := traditionalchinese.Big5.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	// The Big5 decoder substitutes U+FFFD for bytes it cannot map rather
	// than returning an error.
	if bytes.ContainsRune(decoded, utf8.RuneError) {
		return "", false
	}
	return string(decoded), true
}
