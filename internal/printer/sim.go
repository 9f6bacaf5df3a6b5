package printer

import (
	"context"
	"sync"
	"time"
)

// SimClient is an in-process printer for development without hardware
// (printer.simulated in config). It advances one layer per LayerTime while
// printing and honors pause/resume/stop.
type SimClient struct {
	mu          sync.Mutex
	state       State
	file        string
	totalLayers int
	layerTime   time.Duration
	doneLayers  int
	printingAt  time.Time
}

func NewSimClient(totalLayers int, layerTime time.Duration) *SimClient {
	if totalLayers <= 0 {
		totalLayers = 100
	}
	if layerTime <= 0 {
		layerTime = 2 * time.Second
	}
	return &SimClient{
		state:       StateStopped,
		totalLayers: totalLayers,
		layerTime:   layerTime,
	}
}

func (s *SimClient) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()

	layer := s.doneLayers
	pct := float64(layer) * 100 / float64(s.totalLayers)
	token := "stop"
	switch s.state {
	case StatePrinting:
		token = "print"
	case StatePaused:
		token = "pause"
	case StateFinished:
		token = "finished"
		pct = 100
	}

	return Status{
		State:        s.state,
		StateToken:   token,
		File:         s.file,
		CurrentLayer: layer,
		TotalLayers:  s.totalLayers,
		PercentDone:  pct,
	}, nil
}

func (s *SimClient) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	if s.state == StatePrinting {
		s.state = StatePaused
	}
	return nil
}

func (s *SimClient) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StatePaused {
		s.state = StatePrinting
		s.printingAt = time.Now()
	}
	return nil
}

func (s *SimClient) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settle()
	s.state = StateStopped
	return nil
}

func (s *SimClient) ListFiles(ctx context.Context) ([]File, error) {
	return []File{
		{Name: "calibration-cube.pwmb", Internal: "0.pwmb"},
		{Name: "bracket-v2.pwmb", Internal: "1.pwmb"},
	}, nil
}

func (s *SimClient) StartPrint(ctx context.Context, internalName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file = internalName
	s.state = StatePrinting
	s.doneLayers = 0
	s.printingAt = time.Now()
	return nil
}

func (s *SimClient) Close() error { return nil }

// settle folds elapsed printing time into completed layers. Caller holds mu.
func (s *SimClient) settle() {
	if s.state != StatePrinting {
		return
	}
	elapsed := time.Since(s.printingAt)
	layers := int(elapsed / s.layerTime)
	if layers > 0 {
		s.doneLayers += layers
		s.printingAt = s.printingAt.Add(time.Duration(layers) * s.layerTime)
	}
	if s.doneLayers >= s.totalLayers {
		s.doneLayers = s.totalLayers
		s.state = StateFinished
	}
}
