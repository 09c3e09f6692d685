package memory

// ResetDefault releases the default heap and makes the next use create one of size bytes
func ResetDefault(size int) {
	if defaultHeap != nil {
		_ = defaultHeap.Destroy()
	}

	defaultHeap = nil
	lazyHeapSize = size
}
