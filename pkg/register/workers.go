package register

import "sync"

// parallelFor runs fn(0) .. fn(n-1) on a pool of nWorkers goroutines.
func parallelFor(n, nWorkers int, fn func(i int)) {
	if nWorkers < 1 {
		nWorkers = 1
	}
	var wg sync.WaitGroup
	jobsChan := make(chan int, n)

	for i := 0; i < nWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobsChan {
				fn(job)
			}
		}()
	}

	for i := 0; i < n; i++ {
		jobsChan <- i
	}
	close(jobsChan)
	wg.Wait()
}
