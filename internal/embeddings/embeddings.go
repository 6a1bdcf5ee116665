package embeddings

import (
	"crypto/sha256"
	"fmt"
	"image"
	"sync"
)

// Dimensions is the length of every signature vector
const Dimensions = 4

// Result represents the result of signature generation
type Result struct {
	Key       string
	Signature []float32
	Error     error
}

// Work represents a unit of signature work
type Work struct {
	Key    string
	Frame  *image.RGBA
	Result chan<- Result
}

// Service computes colour signatures for processed frames on a pool of
// workers. Signatures are cached by pixel content.
type Service struct {
	numWorkers int
	workQueue  chan Work
	cache      sync.Map // Thread-safe map for caching signatures
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewService creates a new signature service with the specified number of workers
func NewService(numWorkers int) *Service {
	if numWorkers <= 0 {
		numWorkers = 4 // Default to 4 workers if not specified
	}

	service := &Service{
		numWorkers: numWorkers,
		workQueue:  make(chan Work, 100), // Buffer size for signature requests
	}

	service.startWorkers()

	return service
}

// startWorkers starts a pool of goroutines for computing signatures
func (s *Service) startWorkers() {
	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for work := range s.workQueue {
				work.Result <- s.compute(work)
			}
		}()
	}
}

func (s *Service) compute(work Work) Result {
	if cached, ok := s.cache.Load(work.Key); ok {
		if sig, valid := cached.([]float32); valid {
			return Result{Key: work.Key, Signature: sig}
		}
	}

	sig, err := Compute(work.Frame)
	if err == nil {
		s.cache.Store(work.Key, sig)
	}
	return Result{
		Key:       work.Key,
		Signature: sig,
		Error:     err,
	}
}

// GetSignature requests a signature asynchronously. The returned channel
// always yields exactly one Result, computed inline when every worker is
// busy and the queue is full.
func (s *Service) GetSignature(frame *image.RGBA) <-chan Result {
	resultChan := make(chan Result, 1)
	if frame == nil {
		resultChan <- Result{Error: fmt.Errorf("nil frame")}
		return resultChan
	}

	work := Work{Key: contentKey(frame), Frame: frame, Result: resultChan}
	select {
	case s.workQueue <- work:
	default:
		// queue is full, compute on the caller's goroutine
		resultChan <- s.compute(work)
	}

	return resultChan
}

// Compute returns the normalised mean red, green, blue and luma of a frame
func Compute(frame *image.RGBA) ([]float32, error) {
	if frame == nil || frame.Bounds().Empty() {
		return nil, fmt.Errorf("frame has no pixels")
	}

	b := frame.Bounds()
	var sumR, sumG, sumB float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := frame.Pix[frame.PixOffset(b.Min.X, y):frame.PixOffset(b.Max.X, y)]
		for i := 0; i < len(row); i += 4 {
			sumR += float64(row[i])
			sumG += float64(row[i+1])
			sumB += float64(row[i+2])
		}
	}

	n := float64(b.Dx()*b.Dy()) * 255
	r, g, bl := sumR/n, sumG/n, sumB/n
	luma := 0.299*r + 0.587*g + 0.114*bl
	return []float32{float32(r), float32(g), float32(bl), float32(luma)}, nil
}

func contentKey(frame *image.RGBA) string {
	h := sha256.New()
	fmt.Fprintf(h, "%v:", frame.Bounds())
	h.Write(frame.Pix)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Close shuts down the signature service and waits for all workers to finish
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.workQueue)
	})
	s.wg.Wait()
}
