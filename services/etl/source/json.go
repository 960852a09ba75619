// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// ReadJSONList reads a whole JSON file and returns the elements of its list.
//
// Description:
//
//	The file may be either an object holding the list under listKey, e.g.
//	{"movies": [...]}, or a top-level array. Elements are returned undecoded
//	so that one bad element does not reject the whole file.
//
// Outputs:
//
//	[]json.RawMessage - The list elements, possibly empty.
//	error - ErrFileNotFound, or ErrMalformedInput when the file is not valid
//	        JSON or does not have one of the accepted shapes.
func ReadJSONList(path, listKey string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrMalformedInput, path)
	}

	var list []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedInput, path, err)
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedInput, path, err)
		}
		raw, ok := obj[listKey]
		if !ok {
			return nil, fmt.Errorf("%w: %s has no %q list", ErrMalformedInput, path, listKey)
		}
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("%w: %s: %q is not a list: %v", ErrMalformedInput, path, listKey, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s is neither an object nor a list", ErrMalformedInput, path)
	}

	if list == nil {
		list = []json.RawMessage{}
	}
	return list, nil
}
