package loadtest

import "sync"

// Pool 有界工作池。队列满时任务直接在提交者协程上执行，
// 用显式反压替代无界排队。
type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// NewPool 启动 workers 个工作协程，队列深度 queue
func NewPool(workers, queue int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	p := &Pool{tasks: make(chan func(), queue)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// Submit 投递任务。队列已满时在当前协程同步执行（caller-runs）。
func (p *Pool) Submit(task func()) {
	select {
	case p.tasks <- task:
	default:
		task()
	}
}

// Close 关闭队列并等待在途任务跑完
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}
