package audio

// Discard returns an Output that swallows PCM instantly. Used headless and
// in tests where no output device exists.
func Discard() Output { return discardOutput{} }

type discardOutput struct{}

func (discardOutput) Play(pcm []byte) (Unit, error) {
	done := make(chan struct{})
	close(done)
	return discardUnit{done: done}, nil
}

func (discardOutput) Close() error { return nil }

type discardUnit struct{ done chan struct{} }

func (u discardUnit) Done() <-chan struct{} { return u.done }
func (u discardUnit) Stop()                 {}
