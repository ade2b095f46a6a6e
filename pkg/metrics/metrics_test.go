package metrics

import (
	"sync"
	"testing"
)

func TestRunMetricsConcurrentAdds(t *testing.T) {
	m := &RunMetrics{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.AddFilesCopied(1)
				m.AddFilesLinked(2)
				m.AddBytesWritten(10)
			}
		}()
	}
	wg.Wait()

	if got := m.FilesCopied.Load(); got != 800 {
		t.Errorf("FilesCopied = %d, want 800", got)
	}
	if got := m.FilesLinked.Load(); got != 1600 {
		t.Errorf("FilesLinked = %d, want 1600", got)
	}
	if got := m.BytesWritten.Load(); got != 8000 {
		t.Errorf("BytesWritten = %d, want 8000", got)
	}
}
