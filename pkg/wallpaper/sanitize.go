package wallpaper

// maxFilenameLength bounds the stored original filename.
const maxFilenameLength = 255

// SanitizeFilename strips every character outside [A-Za-z0-9._-] and
// truncates the result to 255 bytes. Sanitizing an already-sanitized name
// is a no-op.
func SanitizeFilename(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z',
			c >= 'A' && c <= 'Z',
			c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
			out = append(out, c)
		}
	}
	if len(out) > maxFilenameLength {
		out = out[:maxFilenameLength]
	}
	return string(out)
}
