// Package sw 实现离线代理的请求拦截层：按版本隔离的缓存命名空间、请求路由、
// 三种缓存策略（图片/静态资源 cache-first，导航 network-first）、
// worker 生命周期（install/activate/claim）以及控制消息通道。
//
// 每个部署版本对应一个 Worker；Registration 持有当前控制请求的 worker 以及
// 等待激活的新 worker，负责在两者之间切换。缓存写入与命名空间清理都以后台任务
// 的方式执行，不阻塞响应路径。
package sw
