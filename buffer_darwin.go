//go:build darwin

package fdio

const maxRW = 0x7fffffff

// BufferLimit clamps n to the largest buffer length this platform's
// kernel accepts for a single read/write/recv/send style operation.
func BufferLimit(n int) int {
	if n > maxRW {
		return maxRW
	}
	return n
}
