// Package strategy 描述离线代理的缓存策略（图片、静态资源、导航），并提供统一的注册入口。
//
// 每个策略以元数据形式注册：匹配的扩展名、优先级、缓存模式（cache-first /
// network-first）、写入的命名空间用途以及兜底响应说明。路由器按优先级依次匹配
// 扩展名，未命中任何扩展名的请求交给默认策略（导航）。诊断接口同样读取这里的元数据。
package strategy
