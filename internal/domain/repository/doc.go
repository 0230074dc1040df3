// Package repository define las interfaces de persistencia del dominio.
//
// Las interfaces son contratos de negocio, independientes del almacenamiento
// subyacente. Las implementaciones concretas viven en internal/store/pg
// (PostgreSQL) e internal/store/memory (desarrollo y tests).
//
//	┌─────────────────────────────────────────────────────┐
//	│   connection.Manager / webhook.Ingress / reaction   │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	                        ▼
//	┌─────────────────────────────────────────────────────┐
//	│        domain/repository (interfaces)               │
//	│  ConnectionRepository, EventRepository              │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	              ┌─────────┴─────────┐
//	              ▼                   ▼
//	       ┌─────────────┐     ┌─────────────┐
//	       │  store/pg   │     │ store/memory│
//	       └─────────────┘     └─────────────┘
//
// Convenciones:
//   - Context siempre es el primer parámetro
//   - Errores de dominio están en errors.go
package repository
