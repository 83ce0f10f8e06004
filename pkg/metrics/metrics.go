package metrics

const namespace = "picknest"

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
