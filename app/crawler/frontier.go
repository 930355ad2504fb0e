package crawler

// Frontier is the FIFO queue and visited set driving a breadth-first crawl.
// A URL can be pushed at most once per crawl, and it stays known after it is popped.
type Frontier struct {
	queue   []string
	queued  map[string]struct{}
	visited map[string]struct{}
}

func NewFrontier(seeds ...string) *Frontier {
	f := &Frontier{
		queued:  map[string]struct{}{},
		visited: map[string]struct{}{},
	}
	for _, seed := range seeds {
		f.Push(seed)
	}
	return f
}

// Push adds a URL to the back of the queue unless it was already visited or queued.
func (f *Frontier) Push(url string) bool {
	if _, ok := f.visited[url]; ok {
		return false
	}
	if _, ok := f.queued[url]; ok {
		return false
	}
	f.queued[url] = struct{}{}
	f.queue = append(f.queue, url)
	return true
}

// Pop removes the URL at the head of the queue.
func (f *Frontier) Pop() (string, bool) {
	if len(f.queue) == 0 {
		return "", false
	}
	url := f.queue[0]
	f.queue = f.queue[1:]
	delete(f.queued, url)
	return url, true
}

// MarkIfNotVisited marks the URL as visited. It returns false if the URL had already been visited.
func (f *Frontier) MarkIfNotVisited(url string) bool {
	if _, ok := f.visited[url]; ok {
		return false
	}
	f.visited[url] = struct{}{}
	return true
}

func (f *Frontier) Visited() int {
	return len(f.visited)
}

func (f *Frontier) Len() int {
	return len(f.queue)
}
