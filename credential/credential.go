// Package credential holds the saved network credential record and its
// on-disk encoding. The record is the only state the gateway persists:
// it is written by a successful /wifisave and cleared by the reset button.
package credential

// Record is a saved network credential.
type Record struct {
	SSID     string
	Password string
}

// Store persists the credential record. The storage backend (flash, file)
// is platform glue; absence or unreadability means "no saved credential".
type Store interface {
	Load() (Record, bool)
	Save(Record) error
	Clear()
}

// Marshal appends the record to buf as the compact JSON document
// {"s":"<ssid>","p":"<password>"} and returns the extended slice.
func Marshal(buf []byte, r Record) []byte {
	buf = append(buf, `{"s":`...)
	buf = appendJSONString(buf, r.SSID)
	buf = append(buf, `,"p":`...)
	buf = appendJSONString(buf, r.Password)
	buf = append(buf, '}')
	return buf
}

// Parse decodes a record previously written by Marshal. It tolerates extra
// members and either member order. ok is false when the document is
// unreadable or carries no network name.
func Parse(data []byte) (r Record, ok bool) {
	s, sok := jsonStringMember(data, "s")
	if !sok || s == "" {
		return Record{}, false
	}
	p, _ := jsonStringMember(data, "p")
	return Record{SSID: s, Password: p}, true
}

func appendJSONString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for i := 0; i < len(s); i++ {
		switch b := s[i]; b {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		default:
			if b >= 32 && b < 127 {
				buf = append(buf, b)
			}
		}
	}
	return append(buf, '"')
}

// jsonStringMember scans data for `"key":"value"` and returns the unescaped
// value. A hand scanner keeps the decoder allocation-light and tolerant of
// the truncated documents a failed flash write can leave behind.
func jsonStringMember(data []byte, key string) (string, bool) {
	pat := make([]byte, 0, len(key)+3)
	pat = append(pat, '"')
	pat = append(pat, key...)
	pat = append(pat, '"')
	i := indexBytes(data, pat)
	if i < 0 {
		return "", false
	}
	i += len(pat)
	for i < len(data) && (data[i] == ' ' || data[i] == '\t') {
		i++
	}
	if i >= len(data) || data[i] != ':' {
		return "", false
	}
	i++
	for i < len(data) && (data[i] == ' ' || data[i] == '\t') {
		i++
	}
	if i >= len(data) || data[i] != '"' {
		return "", false
	}
	i++
	out := make([]byte, 0, 16)
	for i < len(data) {
		b := data[i]
		if b == '\\' && i+1 < len(data) {
			out = append(out, data[i+1])
			i += 2
			continue
		}
		if b == '"' {
			return string(out), true
		}
		out = append(out, b)
		i++
	}
	return "", false
}

func indexBytes(data, pat []byte) int {
	if len(pat) == 0 || len(data) < len(pat) {
		return -1
	}
outer:
	for i := 0; i <= len(data)-len(pat); i++ {
		for j := range pat {
			if data[i+j] != pat[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}
