package wallpaper

// ExtensionForMIME maps the supported image MIME types to the storage key
// extension. Returns "" for unsupported types.
func ExtensionForMIME(mime string) string {
	switch mime {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	}
	return ""
}
