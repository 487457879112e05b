package compress

type noneCompressor struct{}

func (noneCompressor) Compress(src []byte) ([]byte, error)   { return src, nil }
func (noneCompressor) Decompress(src []byte) ([]byte, error) { return src, nil }
func (noneCompressor) Algorithm() Algorithm                  { return None }
func (noneCompressor) ID() byte                              { return 0 }
