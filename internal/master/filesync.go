package master

import "fmt"

// RequestPut implements spec.md §4.3's PUT admission rule: if the file is
// busy (not Free), it enqueues a Write Waiter and returns it; otherwise it
// returns a nil Waiter. It chooses no replicas and leaves the file's state
// unchanged.
//
// A caller given a non-nil Waiter blocks on it (by receiving from
// Waiter.Wake) before calling ResumePut, which performs the placement and
// moves the file to Writing.
func (m *Metadata) RequestPut(alive []int, n int, filename string) (waiter *Waiter, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fs, exists := m.filesSync[filename]
	if !exists {
		fs = newFileSync()
		m.filesSync[filename] = fs
	}

	if fs.State != Free {
		w := &Waiter{Kind: OpWrite, Wake: make(chan struct{})}
		fs.Queue = append(fs.Queue, w)
		return w, nil
	}
	return nil, nil
}

// ResumePut performs the actual replica selection/registration once a PUT
// has been admitted (either immediately, State==Free, or after a wakeup).
// Reuses the file's existing first n replicas if it already exists.
func (m *Metadata) ResumePut(alive []int, n int, filename string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fs, ok := m.filesSync[filename]
	if !ok {
		fs = newFileSync()
		m.filesSync[filename] = fs
	}

	var replicas []int
	if existing, ok := m.filesStorage[filename]; ok && len(existing) > 0 {
		replicas = existing
		if len(replicas) > n {
			replicas = replicas[:n]
		}
	} else {
		candidates := append([]int(nil), alive...)
		if len(candidates) < n {
			return nil, fmt.Errorf("master: only %d alive nodes, need %d replicas", len(candidates), n)
		}
		sortByLoad(candidates, m)
		replicas = append([]int(nil), candidates[:n]...)
	}

	fs.State = Writing
	fs.Ops = make(map[int]bool, len(replicas))
	for _, idx := range replicas {
		fs.Ops[idx] = true
	}
	return replicas, nil
}

func sortByLoad(candidates []int, m *Metadata) {
	// insertion sort is fine at n<=10
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0; j-- {
			li, lj := m.loadOf(candidates[j]), m.loadOf(candidates[j-1])
			if li < lj || (li == lj && candidates[j] < candidates[j-1]) {
				candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
			} else {
				break
			}
		}
	}
}

// RequestGet implements spec.md §4.3's GET admission rule. If the file is
// absent, found is false. Otherwise, if admission must wait, a Waiter is
// returned; the chosen serving replica is returned once admitted
// (immediately or via ResumeGet after a wakeup).
func (m *Metadata) RequestGet(filename string) (waiter *Waiter, found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fs, exists := m.filesSync[filename]
	if !exists || len(m.filesStorage[filename]) == 0 {
		return nil, false
	}

	mustWait := fs.State == Writing ||
		(fs.State == Reading && (len(fs.Queue) > 0 || len(fs.Ops) >= 2))

	if mustWait {
		w := &Waiter{Kind: OpRead, Wake: make(chan struct{})}
		fs.Queue = append(fs.Queue, w)
		return w, true
	}
	return nil, true
}

// ResumeGet admits a GET once eligible (immediately, or after a wakeup),
// choosing the lowest-indexed replica not already serving a read of this
// file, or the first replica if every one of them is.
func (m *Metadata) ResumeGet(filename string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fs, ok := m.filesSync[filename]
	replicas := m.filesStorage[filename]
	if !ok || len(replicas) == 0 {
		return 0, fmt.Errorf("master: file %q not found", filename)
	}

	chosen := replicas[0]
	for _, r := range replicas {
		if !fs.Ops[r] {
			chosen = r
			break
		}
	}
	fs.State = Reading
	if fs.Ops == nil {
		fs.Ops = make(map[int]bool)
	}
	fs.Ops[chosen] = true
	return chosen, nil
}

// FileReceived handles the datanode FILE_RECEIVED acknowledgement, spec.md
// §4.3: removes node from ops, registers the file on that node, persists,
// and if ops is now empty, frees the file and wakes the next FIFO waiter.
func (m *Metadata) FileReceived(filename string, node int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fs, ok := m.filesSync[filename]
	if !ok {
		return fmt.Errorf("master: file_received for unknown file %q", filename)
	}
	delete(fs.Ops, node)
	m.addFileRecord(filename, node)

	if err := m.persist(); err != nil {
		return err
	}

	if len(fs.Ops) == 0 {
		fs.State = Free
		m.wakeNextLocked(fs)
	}
	return nil
}

// FileSent handles the datanode FILE_SENT acknowledgement, spec.md §4.3:
// removes node from ops. A Read at the head of the queue is woken at once;
// a Write at the head is woken only when no reader remains, and the file is
// then set Free first.
func (m *Metadata) FileSent(filename string, node int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fs, ok := m.filesSync[filename]
	if !ok {
		return fmt.Errorf("master: file_sent for unknown file %q", filename)
	}
	delete(fs.Ops, node)

	if len(fs.Queue) == 0 {
		if len(fs.Ops) == 0 {
			fs.State = Free
		}
		return nil
	}

	if fs.Queue[0].Kind == OpRead {
		m.wakeNextLocked(fs)
		return nil
	}
	// Head is a Write waiter: only admit it once every other in-flight
	// reader for this file has also finished.
	if len(fs.Ops) == 0 {
		fs.State = Free
		m.wakeNextLocked(fs)
	}
	return nil
}

// wakeNextLocked pops and wakes the head of fs.Queue. Called with the lock
// held.
func (m *Metadata) wakeNextLocked(fs *FileSync) {
	if len(fs.Queue) == 0 {
		return
	}
	w := fs.Queue[0]
	fs.Queue = fs.Queue[1:]
	close(w.Wake)
}
