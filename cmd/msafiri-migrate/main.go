// Package main - CLI для миграций схемы msafiri visitor API.
//
// Команды:
//   - upgrade / downgrade / stamp: изменение схемы и маркера примененного состояния
//   - current / heads / history: состояние графа ревизий и базы
//   - check-drift: сравнение живой схемы с примененными ревизиями
//   - validate: проверка графа без подключения к базе
//
// Usage:
//
//	msafiri-migrate [flags] <command>
package main

func main() {
	Execute()
}
