package models

import (
	"log"

	"bitbucket.org/capitalexpress/operaciones_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Empresa{}, &Usuario{},
		&Operacion{}, &Factura{}, &Gestion{},
		&OperationStaging{}, &OperationSequence{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
