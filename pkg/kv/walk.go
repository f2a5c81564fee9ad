package kv

// parse decodes every entry in buf. It either returns the complete index or
// an error; a malformed buffer never yields a partial index.
func parse(buf []byte) ([]entry, error) {
	var entries []entry

	for pos := 0; pos < len(buf); {
		e, err := readEntry(buf, pos)
		if err != nil {
			return nil, err
		}

		entries = append(entries, e)
		pos = e.next()
	}

	return entries, nil
}

// Walk decodes buf (a store file or a [Store.Snapshot]) and calls fn for every
// record in physical order. key and value alias buf and must not be retained
// past the callback. Walk validates the whole buffer before the first
// callback and returns an error wrapping [ErrCorrupted] if it is malformed.
// An error returned by fn stops the walk and is returned as-is.
func Walk(buf []byte, fn func(key, value []byte) error) error {
	entries, err := parse(buf)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if err := fn(e.key(buf), e.value(buf)); err != nil {
			return err
		}
	}

	return nil
}
