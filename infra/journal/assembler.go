package journal

// FragmentAssembler reassembles fragmented messages before handing them
// to its delegate. Unfragmented frames pass straight through; BEGIN
// frames start a buffer keyed by publisher, END frames deliver it with
// the final frame's position.
type FragmentAssembler struct {
	delegate FragmentHandler
	buffers  map[int32][]byte
}

func NewFragmentAssembler(delegate FragmentHandler) *FragmentAssembler {
	return &FragmentAssembler{delegate: delegate, buffers: make(map[int32][]byte)}
}

func (a *FragmentAssembler) OnFragment(payload []byte, frame Frame) {
	switch {
	case frame.IsUnfragmented():
		a.delegate(payload, frame)
	case frame.IsBegin():
		a.buffers[frame.PublisherID] = append(a.buffers[frame.PublisherID][:0], payload...)
	default:
		buf := append(a.buffers[frame.PublisherID], payload...)
		a.buffers[frame.PublisherID] = buf
		if frame.IsEnd() {
			frame.Flags = FlagUnfragmented
			a.delegate(buf, frame)
			a.buffers[frame.PublisherID] = buf[:0]
		}
	}
}
