package xsched_test

import (
	"context"
	"fmt"
	"time"

	"github.com/omeyang/xsched/pkg/sched/xsched"
)

func Example() {
	pool, err := xsched.New(xsched.WithMaxWorkers(4))
	if err != nil {
		panic(err)
	}

	future, err := pool.Submit(func(_ context.Context, state any) (any, error) {
		return state.(int) * 2, nil
	}, xsched.WithState(21))
	if err != nil {
		panic(err)
	}

	v, err := future.Wait(context.Background())
	if err != nil {
		panic(err)
	}
	fmt.Println("result:", v)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Shutdown(ctx); err != nil {
		panic(err)
	}
	// Output:
	// result: 42
}

func ExamplePool_NewGroup() {
	pool, err := xsched.New(xsched.WithMaxWorkers(8))
	if err != nil {
		panic(err)
	}

	// 分组并发上限为 1：组内工作项串行执行
	group, err := pool.NewGroup("serial", xsched.WithConcurrency(1))
	if err != nil {
		panic(err)
	}

	for i := 1; i <= 3; i++ {
		n := i
		if _, err := group.Submit(func(_ context.Context, _ any) (any, error) {
			fmt.Println("step", n)
			return nil, nil
		}); err != nil {
			panic(err)
		}
	}

	// 等分组排干
	group.WaitForIdle(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Shutdown(ctx); err != nil {
		panic(err)
	}
	// Output:
	// step 1
	// step 2
	// step 3
}

func ExampleFuture_Cancel() {
	pool, err := xsched.New()
	if err != nil {
		panic(err)
	}

	started := make(chan struct{})
	future, err := pool.Submit(func(ctx context.Context, _ any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		panic(err)
	}

	<-started
	// 协作式取消：回调通过 ctx 感知并自行退出
	future.Cancel(false)

	if _, err := future.Wait(context.Background()); err != nil {
		fmt.Println("canceled:", err != nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Shutdown(ctx); err != nil {
		panic(err)
	}
	// Output:
	// canceled: true
}
