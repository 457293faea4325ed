package vector

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// angularToCosine converts an Annoy angular distance sqrt(2 - 2cos) back to cosine.
func angularToCosine(d float32) float64 {
	dd := float64(d)
	return 1 - dd*dd/2
}
