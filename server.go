package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"bitbucket.org/capitalexpress/operaciones_backend/config"
	"bitbucket.org/capitalexpress/operaciones_backend/middlewares"
	"bitbucket.org/capitalexpress/operaciones_backend/models"
	"bitbucket.org/capitalexpress/operaciones_backend/utils"
	"bitbucket.org/capitalexpress/operaciones_backend/workflow"
)

const defaultPort = "8080"

var tracer = otel.Tracer("operaciones-backend")

// PubSubMessage is the push delivery envelope.
type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func pubsubAggregatorHandler(dispatcher *workflow.NotificationDispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg PubSubMessage
		logger := config.GetLogger()

		// Redis lock is a best-effort optimization to keep concurrent
		// deliveries for one submission from piling up on the row lock.
		// Correctness never depends on it: the staging row is locked FOR
		// UPDATE inside ProcessWorkerResult.
		redisLock := config.GetRedisLock()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "server.go", "pubsubAggregatorHandler", "io.ReadAll", nil, err)
			// Malformed request body: ack/drop to avoid infinite retries.
			c.Status(http.StatusNoContent)
			return
		}

		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(logger, "server.go", "pubsubAggregatorHandler", "Unmarshal body", body, err)
			c.Status(http.StatusNoContent)
			return
		}

		var event models.WorkerEvent
		if err := json.Unmarshal(msg.Message.Data, &event); err != nil {
			config.LogError(logger, "server.go", "pubsubAggregatorHandler", "Unmarshal worker event", msg.Message.Data, err)
			c.Status(http.StatusNoContent)
			return
		}
		if event.TrackingID == "" {
			config.LogError(logger, "server.go", "pubsubAggregatorHandler", "Invalid worker event (missing tracking_id)", event, fmt.Errorf("tracking_id required"))
			c.Status(http.StatusNoContent)
			return
		}

		// Correlation ID propagation: prefer payload correlation_id; fall
		// back to the broker message ID.
		correlationID := event.CorrelationId
		if correlationID == "" {
			correlationID = msg.Message.ID
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationID)

		var lock *redislock.Lock
		if redisLock != nil {
			lock, err = redisLock.Obtain(ctx, "staging:"+event.TrackingID, 30*time.Second, nil)
			if err != nil {
				logger.WithFields(logrus.Fields{
					"field":       "pubsubAggregatorHandler",
					"tracking_id": event.TrackingID,
					"message_id":  msg.Message.ID,
				}).Warn("could not obtain redis lock; proceeding without it: " + err.Error())
				lock = nil
			}
		}
		defer func() {
			if lock == nil {
				return
			}
			if releaseErr := lock.Release(ctx); releaseErr != nil {
				logger.WithFields(logrus.Fields{
					"field":       "pubsubAggregatorHandler",
					"tracking_id": event.TrackingID,
				}).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		}()

		notifications, err := workflow.ProcessWorkerResult(ctx, &event)
		if err != nil {
			if errors.Is(err, workflow.ErrUnknownWorkerEvent) {
				logger.WithFields(logrus.Fields{
					"field":       "pubsubAggregatorHandler",
					"tracking_id": event.TrackingID,
					"message_id":  msg.Message.ID,
				}).Warn("unrecognized worker event; dropping")
				c.Status(http.StatusNoContent)
				return
			}
			logger.WithFields(logrus.Fields{
				"field":          "pubsubAggregatorHandler",
				"tracking_id":    event.TrackingID,
				"message_id":     msg.Message.ID,
				"correlation_id": correlationID,
			}).Error("aggregation failed: " + err.Error())
			// Non-2xx tells the broker to retry (and potentially route to DLQ).
			c.Status(http.StatusInternalServerError)
			return
		}

		// Fan out strictly after the persisting transaction committed.
		dispatcher.DispatchAll(ctx, notifications)

		c.Status(http.StatusNoContent)
	}
}

func readMultipartGroup(form *multipart.Form, field string) ([]workflow.SubmittedFile, error) {
	var files []workflow.SubmittedFile
	for _, header := range form.File[field] {
		f, err := header.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		files = append(files, workflow.SubmittedFile{Filename: header.Filename, Data: data})
	}
	return files, nil
}

func submitOperationHandler(client *workflow.MicroserviceClient, dispatcher *workflow.NotificationDispatcher) gin.HandlerFunc {
	syncMode := strings.EqualFold(strings.TrimSpace(os.Getenv("SYNC_MODE")), "true")
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "operation.submit")
		defer span.End()

		userEmail, ok := utils.GetUserEmailFromContext(ctx)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
			return
		}

		metadataValues := form.Value["metadata"]
		if len(metadataValues) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "metadata is required"})
			return
		}
		var metadata models.OperationMetadata
		if err := json.Unmarshal([]byte(metadataValues[0]), &metadata); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "metadata is not valid JSON"})
			return
		}

		xmlFiles, err := readMultipartGroup(form, "xml_files")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(xmlFiles) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "at least one XML file is required"})
			return
		}
		pdfFiles, err := readMultipartGroup(form, "pdf_files")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respaldoFiles, err := readMultipartGroup(form, "respaldo_files")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		trackingID := workflow.NewTrackingID()
		gcsPaths, err := workflow.UploadSubmissionFiles(ctx, trackingID, xmlFiles, pdfFiles, respaldoFiles)
		if err != nil {
			config.LogError(config.GetLogger(), "server.go", "submitOperationHandler", "upload files", trackingID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		correlationID, _ := utils.GetCorrelationIdFromContext(ctx)
		submission := &models.OperationSubmission{
			TrackingID:    trackingID,
			UserEmail:     userEmail,
			Metadata:      &metadata,
			GCSPaths:      gcsPaths,
			CorrelationId: correlationID,
		}

		if syncMode {
			notifications, err := workflow.SubmitOperationSync(ctx, client, submission)
			if err != nil {
				config.LogError(config.GetLogger(), "server.go", "submitOperationHandler", "sync processing", trackingID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			dispatcher.DispatchAll(ctx, notifications)
		} else {
			if err := workflow.SubmitOperation(ctx, submission); err != nil {
				config.LogError(config.GetLogger(), "server.go", "submitOperationHandler", "publish submission", trackingID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}

		c.JSON(http.StatusAccepted, gin.H{"status": "processing", "tracking_id": trackingID})
	}
}

func operationStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		trackingID := c.Param("tracking_id")
		staging, err := models.GetStaging(c.Request.Context(), trackingID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if staging == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "operación no encontrada en la etapa de procesamiento"})
			return
		}

		var drive struct {
			DriveFolderURL string `json:"drive_folder_url"`
		}
		if len(staging.DriveData) > 0 {
			_ = json.Unmarshal(staging.DriveData, &drive)
		}
		c.JSON(http.StatusOK, gin.H{"drive_folder_url": drive.DriveFolderURL})
	}
}

func listOperacionesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userEmail, ok := utils.GetUserEmailFromContext(ctx)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		userName, _ := utils.GetUserNameFromContext(ctx)
		userRole, _ := utils.GetUserRoleFromContext(ctx)

		lastLogin, err := models.TouchLastLogin(ctx, userEmail, userName)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		page, err := models.ListOperaciones(ctx, userEmail, userRole, offset, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		response := gin.H{
			"operations": page.Operations,
			"total":      page.Total,
			"user_role":  userRole,
		}
		if lastLogin != nil {
			response["last_login"] = lastLogin.Format(time.RFC3339)
		}
		c.JSON(http.StatusOK, response)
	}
}

func exportOperacionesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userEmail, ok := utils.GetUserEmailFromContext(ctx)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		userRole, _ := utils.GetUserRoleFromContext(ctx)

		// Export everything the user may see; no pagination.
		page, err := models.ListOperaciones(ctx, userEmail, userRole, 0, 100000)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		workbook, err := BuildOperationsWorkbook(page.Operations)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer workbook.Close()

		filename := fmt.Sprintf("operaciones_%s.xlsx", time.Now().UTC().Format("20060102"))
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		if err := workbook.Write(c.Writer); err != nil {
			config.LogError(config.GetLogger(), "server.go", "exportOperacionesHandler", "write workbook", userEmail, err)
		}
	}
}

func operacionDetalleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userEmail, ok := utils.GetUserEmailFromContext(ctx)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		userRole, _ := utils.GetUserRoleFromContext(ctx)

		op, err := models.GetOperacionByID(ctx, c.Param("id"))
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "operación no encontrada"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if userRole != "admin" && op.EmailUsuario != userEmail {
			c.JSON(http.StatusForbidden, gin.H{"error": "no autorizado para ver esta operación"})
			return
		}
		c.JSON(http.StatusOK, op)
	}
}

func gestionesOperationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userEmail, ok := utils.GetUserEmailFromContext(ctx)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		userRole, _ := utils.GetUserRoleFromContext(ctx)

		ops, err := models.ListGestionOperations(ctx, userEmail, userRole)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, formatGestionQueue(ops, time.Now().UTC()))
	}
}

// formatGestionQueue shapes the follow-up queue the way the panel consumes it:
// per-operation totals, follow-up history and a call-now alert for stale
// entries with no activity.
func formatGestionQueue(ops []models.Operacion, now time.Time) []gin.H {
	result := make([]gin.H, 0, len(ops))
	for _, op := range ops {
		clienteName := "N/A"
		if op.Cliente != nil {
			clienteName = op.Cliente.RazonSocial
		}
		deudorName := "N/A"
		if len(op.Facturas) > 0 && op.Facturas[0].Deudor != nil {
			deudorName = op.Facturas[0].Deudor.RazonSocial
		}

		antiquityDays := int(now.Sub(op.FechaCreacion).Hours() / 24)
		var alerta gin.H
		if antiquityDays > 3 && len(op.Gestiones) == 0 {
			alerta = gin.H{"tipo": "llamar", "texto": "¡Llamar ya! Operación con más de 3 días sin gestión."}
		}

		mailsSent := 0
		gestiones := make([]gin.H, 0, len(op.Gestiones))
		for _, g := range op.Gestiones {
			if g.Tipo == string(models.TipoGestionCorreo) {
				mailsSent++
			}
			analista := "Sistema"
			if g.Analista != nil {
				analista = g.Analista.Nombre
			}
			gestiones = append(gestiones, gin.H{
				"fecha":     g.FechaCreacion.Format(time.RFC3339),
				"tipo":      g.Tipo,
				"resultado": g.Resultado,
				"notas":     g.Notas,
				"analista":  analista,
			})
		}

		facturas := make([]gin.H, 0, len(op.Facturas))
		for _, f := range op.Facturas {
			facturas = append(facturas, gin.H{
				"folio":  f.NumeroDocumento,
				"monto":  f.MontoTotal,
				"moneda": f.Moneda,
				"estado": f.Estado,
			})
		}

		result = append(result, gin.H{
			"id":              op.ID,
			"cliente":         clienteName,
			"deudor":          deudorName,
			"montoTotal":      op.MontoSumatoriaTotal,
			"moneda":          op.MonedaSumatoria,
			"fechaIngreso":    op.FechaCreacion.Format(time.RFC3339),
			"antiquity":       antiquityDays,
			"correosEnviados": mailsSent,
			"adelantoExpress": op.AdelantoExpress,
			"estadoOperacion": op.Estado,
			"gestiones":       gestiones,
			"facturas":        facturas,
			"alertaIA":        alerta,
		})
	}
	return result
}

func registrarGestionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userEmail, ok := utils.GetUserEmailFromContext(ctx)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var input models.NewGestion
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		gestion, err := models.CreateGestion(ctx, c.Param("id"), userEmail, &input)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "operación no encontrada"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gestion)
	}
}

func updateFacturaHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			Estado models.EstadoFactura `json:"estado" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		factura, opEstado, err := models.UpdateFacturaEstado(c.Request.Context(), c.Param("id"), c.Param("folio"), input.Estado)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "factura no encontrada"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"folio":                c.Param("folio"),
			"nuevoEstadoFactura":   factura.Estado,
			"nuevoEstadoOperacion": opEstado,
		})
	}
}

func adelantoExpressHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userEmail, ok := utils.GetUserEmailFromContext(ctx)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var input struct {
			Justificacion string `json:"justificacion" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		op, err := models.MarkAdelantoExpress(ctx, c.Param("id"), userEmail, input.Justificacion)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "operación no encontrada"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, op)
	}
}

func completarOperacionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		opID := c.Param("id")
		if err := models.CompleteOperacion(c.Request.Context(), opID); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "operación no encontrada"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": fmt.Sprintf("Operación %s marcada como completada.", opID)})
	}
}

func usersMeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userEmail, ok := utils.GetUserEmailFromContext(ctx)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		userName, _ := utils.GetUserNameFromContext(ctx)
		userRole, _ := utils.GetUserRoleFromContext(ctx)

		lastLogin, err := models.TouchLastLogin(ctx, userEmail, userName)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		response := gin.H{"email": userEmail, "nombre": userName, "rol": userRole}
		if lastLogin != nil {
			response["ultimo_ingreso"] = lastLogin.Format(time.RFC3339)
		}
		c.JSON(http.StatusOK, response)
	}
}

func listAnalystsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		analysts, err := models.ListAnalysts(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, analysts)
	}
}

// ensurePubSubTopology creates the workflow topics and the aggregator push
// subscriptions when the deployment asks for it (local/dev convenience).
func ensurePubSubTopology(ctx context.Context, logger *logrus.Logger) {
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("ENSURE_PUBSUB_TOPOLOGY")), "true") {
		return
	}
	client, err := config.GetClient(ctx)
	if err != nil {
		config.LogError(logger, "server.go", "ensurePubSubTopology", "get pubsub client", nil, err)
		return
	}

	pushEndpoint := strings.TrimSpace(os.Getenv("AGGREGATOR_PUSH_ENDPOINT"))
	for topicName, subName := range map[string]string{
		config.TopicOperationSubmitted: "",
		config.TopicInvoicesParsed:     "invoices-parsed-aggregator",
		config.TopicInvoicesValidated:  "invoices-validated-aggregator",
		config.TopicOperationPersisted: "",
	} {
		topic, err := config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			config.LogError(logger, "server.go", "ensurePubSubTopology", "create topic", topicName, err)
			continue
		}
		if subName == "" {
			continue
		}
		if _, err := config.CreateSubscriptionIfNotExists(client, subName, topic, pushEndpoint); err != nil {
			config.LogError(logger, "server.go", "ensurePubSubTopology", "create subscription", subName, err)
		}
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	r.Use(middlewares.CorrelationIdMiddleware())
	r.Use(func(c *gin.Context) {
		// Always allow the startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate app endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS: explicit allowlist in production, allow-all in dev.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "X-Correlation-Id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	client := workflow.NewMicroserviceClient()
	dispatcher := workflow.NewNotificationDispatcher()

	r.POST("/submit-operation", submitOperationHandler(client, dispatcher))
	r.POST("/pubsub-aggregator", pubsubAggregatorHandler(dispatcher))
	r.GET("/operation-status/:tracking_id", operationStatusHandler())

	api := r.Group("/api", middlewares.RequireUser())
	{
		api.GET("/operaciones", listOperacionesHandler())
		api.GET("/operaciones/export", exportOperacionesHandler())
		api.GET("/operaciones/:id/detalle", operacionDetalleHandler())
		api.POST("/operaciones/:id/gestiones", registrarGestionHandler())
		api.PATCH("/operaciones/:id/facturas/:folio", updateFacturaHandler())
		api.POST("/operaciones/:id/adelanto-express", adelantoExpressHandler())
		api.PATCH("/operaciones/:id/completar", completarOperacionHandler())
		api.GET("/gestiones/operaciones", gestionesOperationsHandler())
		api.GET("/users/me", usersMeHandler())
		api.GET("/users/analysts", listAnalystsHandler())
	}
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running migrations as
	// a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	ensurePubSubTopology(sigCtx, logger)

	// Background reaper for abandoned staging rows.
	reaperCtx, cancelReaper := context.WithCancel(context.Background())
	defer cancelReaper()
	go workflow.NewStagingReaper(logger).Run(reaperCtx)

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while draining.
	cancelReaper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
