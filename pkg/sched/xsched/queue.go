package xsched

// priorityQueue 按优先级分桶的 FIFO 队列。
//
// 共享分发队列与分组本地队列共用此结构。本身不加锁，
// 由持有者（Pool/Group）在自己的互斥量下访问。
//
// 设计决策: 每个桶用"切片 + 头指针"实现出队，避免 buckets[i][1:]
// 造成底层数组无法释放；头指针超过半长时整理一次，摊还 O(1)。
type priorityQueue struct {
	buckets [numPriorities][]*WorkItem
	heads   [numPriorities]int
	size    int
}

// enqueue 追加工作项到其优先级桶的尾部。O(1)。
func (q *priorityQueue) enqueue(item *WorkItem) {
	p := item.Priority()
	q.buckets[p] = append(q.buckets[p], item)
	q.size++
}

// dequeue 从最高非空优先级桶的头部取出一个工作项。
// 队列为空时返回 nil，不阻塞。O(优先级档位数)。
func (q *priorityQueue) dequeue() *WorkItem {
	for p := numPriorities - 1; p >= 0; p-- {
		if q.heads[p] < len(q.buckets[p]) {
			item := q.buckets[p][q.heads[p]]
			q.buckets[p][q.heads[p]] = nil
			q.heads[p]++
			q.size--
			q.compact(p)
			return item
		}
	}
	return nil
}

// remove 从队列中移除指定工作项。
// 命中返回 true；未命中（已被取出或不在此队列）返回 false。
// 用于取消还未分发的工作项。
func (q *priorityQueue) remove(item *WorkItem) bool {
	p := item.Priority()
	bucket := q.buckets[p]
	for i := q.heads[p]; i < len(bucket); i++ {
		if bucket[i] == item {
			copy(bucket[i:], bucket[i+1:])
			bucket[len(bucket)-1] = nil
			q.buckets[p] = bucket[:len(bucket)-1]
			q.size--
			return true
		}
	}
	return false
}

// contains 报告工作项是否还在队列中。O(所在桶长度)。
func (q *priorityQueue) contains(item *WorkItem) bool {
	p := item.Priority()
	bucket := q.buckets[p]
	for i := q.heads[p]; i < len(bucket); i++ {
		if bucket[i] == item {
			return true
		}
	}
	return false
}

// drain 取出所有工作项并清空队列，保持分发顺序（高优先级在前）。
func (q *priorityQueue) drain() []*WorkItem {
	if q.size == 0 {
		return nil
	}
	items := make([]*WorkItem, 0, q.size)
	for p := numPriorities - 1; p >= 0; p-- {
		for i := q.heads[p]; i < len(q.buckets[p]); i++ {
			items = append(items, q.buckets[p][i])
		}
		q.buckets[p] = nil
		q.heads[p] = 0
	}
	q.size = 0
	return items
}

// snapshot 返回队列中所有工作项（高优先级在前），不修改队列。
func (q *priorityQueue) snapshot() []*WorkItem {
	if q.size == 0 {
		return nil
	}
	items := make([]*WorkItem, 0, q.size)
	for p := numPriorities - 1; p >= 0; p-- {
		for i := q.heads[p]; i < len(q.buckets[p]); i++ {
			items = append(items, q.buckets[p][i])
		}
	}
	return items
}

// len 返回队列中的工作项数量。
func (q *priorityQueue) len() int {
	return q.size
}

// lenByPriority 返回各优先级桶的工作项数量。
func (q *priorityQueue) lenByPriority() [numPriorities]int {
	var counts [numPriorities]int
	for p := 0; p < numPriorities; p++ {
		counts[p] = len(q.buckets[p]) - q.heads[p]
	}
	return counts
}

// compact 头指针超过桶长一半时整理桶，回收已出队的槽位。
func (q *priorityQueue) compact(p int) {
	head := q.heads[p]
	if head < 32 || head*2 < len(q.buckets[p]) {
		return
	}
	n := copy(q.buckets[p], q.buckets[p][head:])
	for i := n; i < len(q.buckets[p]); i++ {
		q.buckets[p][i] = nil
	}
	q.buckets[p] = q.buckets[p][:n]
	q.heads[p] = 0
}
