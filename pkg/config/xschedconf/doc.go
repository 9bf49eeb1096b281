// Package xschedconf 提供调度引擎的文件化配置：加载、校验、构建与热应用。
//
// # 设计理念
//
// xschedconf 把 xsched 引擎与分组的参数外置到 YAML/JSON 文件，
// 负责三件事：
//   - 加载与校验：基于 koanf 解析文件或字节数据，返回结构化配置
//   - 构建：把配置转换为 xsched 的函数式选项（Options / GroupOptions）
//   - 热应用：监视文件变更（fsnotify），把运行期可调参数
//     （worker 上下限、分组并发上限）应用到存活的引擎实例
//
// 不在运行期可调的参数（引擎名称、空闲退役超时、分组历史容量等）
// 在热应用时被忽略，只有重建引擎才会生效。
//
// # 配置格式
//
//	pool:
//	  name: ingest
//	  min_workers: 2
//	  max_workers: 16
//	  idle_timeout: 30s
//	groups:
//	  - name: tenant-a
//	    concurrency: 4
//	    history_size: 128
//	  - name: tenant-b
//	    concurrency: 1
//	    start_suspended: true
//
// # 并发安全
//
// Loader 的 Reload 通过互斥量序列化，解析成功后整体替换配置快照；
// Config() 返回的是不可变快照，可安全地跨 goroutine 传递。
package xschedconf
