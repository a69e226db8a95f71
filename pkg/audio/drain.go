package audio

// Drain reads from ch until it is closed, discarding every value. Response
// runs use it on cancelled synthesis streams so the producing goroutine can
// finish instead of blocking on a send nobody reads.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
